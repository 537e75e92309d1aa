package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"adstudio/internal/infra"
	"adstudio/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// GeminiAPIKeys returns the rotation pool. Keys are stored comma separated in a
// single token row.
func (s *Store) GeminiAPIKeys(ctx context.Context) ([]string, error) {
	raw, err := s.Token(ctx, ProviderGemini)
	if err != nil {
		return nil, err
	}
	return splitKeys(raw), nil
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetGeminiAPIKeys(ctx context.Context, keys []string) error {
	var cleaned []string
	seen := map[string]bool{}
	for _, k := range keys {
		for _, part := range splitKeys(k) {
			if !seen[part] {
				seen[part] = true
				cleaned = append(cleaned, part)
			}
		}
	}
	if len(cleaned) == 0 {
		return errors.New("at least one gemini api key is required")
	}
	return s.upsert(ctx, ProviderGemini, strings.Join(cleaned, ","), map[string]any{"keys": len(cleaned)})
}

// ClearGeminiAPIKeys removes the stored pool; the service then falls back to
// GEMINI_API_KEYS or synthetic composites.
func (s *Store) ClearGeminiAPIKeys(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QDeleteIntegrationToken, ProviderGemini)
	return err
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

func splitKeys(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
