package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"adstudio/internal/domain"
)

// HTTPService talks to a remote quota API:
//
//	POST /api/check-regeneration-limit  {"email"} -> {canRegenerate, regenerationCount, maxRegenerations}
//	POST /api/regenerate-images         {"email"} -> {regenerationCount, maxRegenerations}
//
// A 403 or 429 from the consume endpoint means the ceiling was reached.
type HTTPService struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPService(baseURL, token string, client *http.Client) *HTTPService {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPService{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: client}
}

type remoteQuota struct {
	CanRegenerate     *bool  `json:"canRegenerate,omitempty"`
	RegenerationCount int    `json:"regenerationCount"`
	MaxRegenerations  int    `json:"maxRegenerations"`
	Error             string `json:"error,omitempty"`
}

func (s *HTTPService) CanRegenerate(ctx context.Context, identity string) (domain.QuotaStatus, error) {
	body, status, err := s.post(ctx, "/api/check-regeneration-limit", identity)
	if err != nil {
		return domain.QuotaStatus{}, err
	}
	if status >= http.StatusBadRequest {
		return domain.QuotaStatus{}, fmt.Errorf("quota service status %d: %s", status, body.Error)
	}
	out := domain.QuotaStatus{Used: body.RegenerationCount, Max: body.MaxRegenerations}
	out.CanProceed = out.Used < out.Max
	if body.CanRegenerate != nil {
		out.CanProceed = *body.CanRegenerate
	}
	return out, nil
}

func (s *HTTPService) ConsumeRegeneration(ctx context.Context, identity string) (domain.QuotaStatus, error) {
	body, status, err := s.post(ctx, "/api/regenerate-images", identity)
	if err != nil {
		return domain.QuotaStatus{}, err
	}
	out := domain.QuotaStatus{Used: body.RegenerationCount, Max: body.MaxRegenerations}
	out.CanProceed = out.Used < out.Max
	switch {
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return out, &domain.QuotaExceededError{Used: out.Used, Max: out.Max}
	case status >= http.StatusBadRequest:
		return domain.QuotaStatus{}, fmt.Errorf("quota service status %d: %s", status, body.Error)
	}
	return out, nil
}

func (s *HTTPService) post(ctx context.Context, path, identity string) (remoteQuota, int, error) {
	payload, err := json.Marshal(map[string]string{"email": identity})
	if err != nil {
		return remoteQuota{}, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return remoteQuota{}, 0, fmt.Errorf("create quota request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return remoteQuota{}, 0, fmt.Errorf("call quota service: %w", err)
	}
	defer resp.Body.Close()

	var body remoteQuota
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return remoteQuota{}, resp.StatusCode, fmt.Errorf("read quota response: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &body); err != nil && resp.StatusCode < http.StatusBadRequest {
			return remoteQuota{}, resp.StatusCode, fmt.Errorf("decode quota response: %w", err)
		}
	}
	return body, resp.StatusCode, nil
}

var _ domain.QuotaService = (*HTTPService)(nil)
