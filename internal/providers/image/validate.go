package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"adstudio/internal/domain"
)

// DefaultCheckTimeout bounds a single validity check.
const DefaultCheckTimeout = 10 * time.Second

const maxImageBytes = 32 << 20

var (
	ErrEmptyImage   = errors.New("image reference is empty")
	ErrCheckTimeout = errors.New("image validity check timed out")
)

// Validator decodes an image reference (data URI or http(s) URL) to prove it
// is loadable.
type Validator struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewValidator constructs a validator. A nil client falls back to
// http.DefaultClient.
func NewValidator(client *http.Client, timeout time.Duration) *Validator {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Validator{httpClient: client, timeout: timeout}
}

// Check resolves within the timeout even if the load itself never returns.
func (v *Validator) Check(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return ErrEmptyImage
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- v.load(ctx, ref)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrCheckTimeout
		}
		return ctx.Err()
	}
}

func (v *Validator) load(ctx context.Context, ref string) error {
	var data []byte
	var err error
	switch {
	case strings.HasPrefix(ref, "data:"):
		_, data, err = domain.ParseDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		data, err = v.fetch(ctx, ref)
	default:
		return fmt.Errorf("unsupported image reference %q", truncate(ref, 32))
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return ErrEmptyImage
	}
	return nil
}

func (v *Validator) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create image request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("load image: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
