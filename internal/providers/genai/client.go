package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"adstudio/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKeys    []string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client composites a logo into a scene through the Gemini image model. It
// rotates through its key pool whenever a key is rate limited. Without any
// key it renders deterministic synthetic composites so local runs keep the
// whole pipeline exercised.
type Client struct {
	keys       []string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger

	mu      sync.Mutex
	current int
}

// CompositeRequest is one logo-on-template generation.
type CompositeRequest struct {
	Prompt    string
	Logo      []byte
	MIMEType  string
	RequestID string
}

// ImageAsset is the normalized image returned by the client.
type ImageAsset struct {
	URL    string
	Format string
	Data   []byte
}

// APIError is a non-2xx answer from Gemini.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini status %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini status %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports whether the error should rotate keys.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || strings.EqualFold(e.Status, "RESOURCE_EXHAUSTED")
}

// ErrNoImage is returned when Gemini answered without any image part.
var ErrNoImage = errors.New("gemini returned no image")

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	CandidateCount     int      `json:"candidateCount,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("genai: parse base url: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	var keys []string
	seen := map[string]bool{}
	for _, k := range opts.APIKeys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	return &Client{
		keys:       keys,
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// Synthetic reports whether the client renders placeholders instead of
// calling Gemini.
func (c *Client) Synthetic() bool {
	return len(c.keys) == 0
}

// KeyCount returns the size of the rotation pool.
func (c *Client) KeyCount() int {
	return len(c.keys)
}

// GenerateComposite returns one image of the logo placed in the prompt's scene.
// Remote failures are returned as is; retrying is the caller's decision.
func (c *Client) GenerateComposite(ctx context.Context, req CompositeRequest) (*ImageAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Synthetic() {
		return c.syntheticComposite(req)
	}

	key, index := c.activeKey()
	asset, err := c.remoteComposite(ctx, key, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RateLimited() {
			c.rotate(index)
		}
		return nil, err
	}
	return asset, nil
}

func (c *Client) activeKey() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[c.current], c.current
}

// rotate advances past the key at index. Concurrent callers failing on the
// same key only advance once.
func (c *Client) rotate(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.keys) < 2 || c.current != index {
		return
	}
	c.current = (c.current + 1) % len(c.keys)
	c.logger.Warn().
		Int("key_index", c.current).
		Int("key_pool", len(c.keys)).
		Msg("genai: rate limited, rotated api key")
}

func (c *Client) syntheticComposite(req CompositeRequest) (*ImageAsset, error) {
	seed := deterministicSeed(req.Prompt, len(req.Logo), req.RequestID)
	data, err := renderSyntheticComposite(1024, 1024, seed, req.Logo)
	if err != nil {
		return nil, fmt.Errorf("render synthetic composite: %w", err)
	}
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Msg("genai: generated synthetic composite")
	return &ImageAsset{Format: "image/png", Data: data}, nil
}

func (c *Client) remoteComposite(ctx context.Context, key string, req CompositeRequest) (*ImageAsset, error) {
	parts := []geminiPart{{Text: buildCompositePrompt(req.Prompt)}}
	if len(req.Logo) > 0 {
		mime := req.MIMEType
		if mime == "" {
			mime = http.DetectContentType(req.Logo)
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(req.Logo),
		}})
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
			CandidateCount:     1,
		},
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, key, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model)), payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			asset, err := c.decodeInlineAsset(ctx, key, part)
			if err != nil {
				return nil, err
			}
			if asset == nil {
				continue
			}
			c.logger.Debug().
				Str("request_id", req.RequestID).
				Str("model", c.model).
				Int("bytes", len(asset.Data)).
				Msg("genai: generated remote composite")
			return asset, nil
		}
	}
	return nil, ErrNoImage
}

func (c *Client) invokeGemini(ctx context.Context, key, path string, payload any, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var parsed geminiErrorResponse
		if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
			apiErr.Message = parsed.Error.Message
			apiErr.Status = parsed.Error.Status
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func (c *Client) decodeInlineAsset(ctx context.Context, key string, part geminiPart) (*ImageAsset, error) {
	if part.InlineData != nil && part.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("decode inline data: %w", err)
		}
		return &ImageAsset{Data: data, Format: firstNonEmpty(part.InlineData.MimeType, "image/png")}, nil
	}

	if part.FileData != nil && part.FileData.FileURI != "" {
		data, mime, err := c.downloadFile(ctx, key, part.FileData.FileURI)
		if err != nil {
			return nil, err
		}
		return &ImageAsset{Data: data, Format: firstNonEmpty(part.FileData.MimeType, mime), URL: part.FileData.FileURI}, nil
	}

	return nil, nil
}

func (c *Client) downloadFile(ctx context.Context, key, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("x-goog-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, "", &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func buildCompositePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = "Create an advertising photograph featuring the provided logo."
	}
	return prompt + "\nUse the attached image as the brand logo. Return a single image."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
