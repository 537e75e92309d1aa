package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func testLogo(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode logo: %v", err)
	}
	return buf.Bytes()
}

func TestSyntheticCompositeIsDecodable(t *testing.T) {
	c, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if !c.Synthetic() {
		t.Fatal("client without keys should be synthetic")
	}
	asset, err := c.GenerateComposite(context.Background(), CompositeRequest{Prompt: "bus wrap", Logo: testLogo(t), MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("GenerateComposite: %v", err)
	}
	if _, _, err := image.Decode(bytes.NewReader(asset.Data)); err != nil {
		t.Fatalf("synthetic composite is not an image: %v", err)
	}
}

func TestSyntheticCompositeRejectsBrokenLogo(t *testing.T) {
	c, _ := NewClient(Options{})
	if _, err := c.GenerateComposite(context.Background(), CompositeRequest{Logo: []byte("not an image")}); err == nil {
		t.Fatal("expected error for undecodable logo")
	}
}

func TestRemoteCompositeSendsLogoInline(t *testing.T) {
	logo := testLogo(t)
	var got geminiGenerateContentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "key-a" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := geminiGenerateContentResponse{Candidates: []geminiCandidate{{
			Content: geminiContent{Parts: []geminiPart{{InlineData: &geminiInlineData{
				MimeType: "image/png",
				Data:     base64.StdEncoding.EncodeToString(logo),
			}}}},
		}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKeys: []string{"key-a"}, BaseURL: srv.URL, HTTPClient: srv.Client()})
	asset, err := c.GenerateComposite(context.Background(), CompositeRequest{Prompt: "metro", Logo: logo, MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("GenerateComposite: %v", err)
	}
	if !bytes.Equal(asset.Data, logo) || asset.Format != "image/png" {
		t.Fatalf("unexpected asset %q (%d bytes)", asset.Format, len(asset.Data))
	}
	if len(got.Contents) != 1 || len(got.Contents[0].Parts) != 2 {
		t.Fatalf("request parts = %+v", got.Contents)
	}
	inline := got.Contents[0].Parts[1].InlineData
	if inline == nil || inline.MimeType != "image/png" {
		t.Fatalf("logo part missing: %+v", got.Contents[0].Parts[1])
	}
}

func TestRateLimitRotatesKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("x-goog-api-key"))
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKeys: []string{"key-a", "key-b", "key-a"}, BaseURL: srv.URL, HTTPClient: srv.Client()})
	if c.KeyCount() != 2 {
		t.Fatalf("KeyCount() = %d, want 2 after dedupe", c.KeyCount())
	}
	for i := 0; i < 2; i++ {
		_, err := c.GenerateComposite(context.Background(), CompositeRequest{Prompt: "x"})
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.RateLimited() {
			t.Fatalf("attempt %d: err = %v, want rate-limited APIError", i, err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 || keys[0] != "key-a" || keys[1] != "key-b" {
		t.Fatalf("keys used = %v, want [key-a key-b]", keys)
	}
}

func TestNoImagePart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKeys: []string{"k"}, BaseURL: srv.URL, HTTPClient: srv.Client()})
	if _, err := c.GenerateComposite(context.Background(), CompositeRequest{Prompt: "x"}); !errors.Is(err, ErrNoImage) {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
}
