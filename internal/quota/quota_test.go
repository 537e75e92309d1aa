package quota

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"adstudio/internal/domain"
	"adstudio/internal/sqlinline"
)

func TestGateCheckThenConsume(t *testing.T) {
	svc := NewMemoryService(3)
	svc.SetLimit("ana@example.com", 2, 3)
	gate := NewGate(svc, nil)
	ctx := context.Background()

	status, err := gate.CheckLimit(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if !status.CanProceed || status.Used != 2 || status.Max != 3 {
		t.Fatalf("status = %+v, want can proceed 2/3", status)
	}

	status, err = gate.Consume(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if status.Used != 3 {
		t.Fatalf("used = %d, want 3", status.Used)
	}

	status, err = gate.CheckLimit(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if status.CanProceed {
		t.Fatalf("status = %+v, want blocked", status)
	}

	_, err = gate.Consume(ctx, "ana@example.com")
	var exceeded *domain.QuotaExceededError
	if !errors.As(err, &exceeded) || !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if exceeded.Used != 3 || exceeded.Max != 3 {
		t.Fatalf("exceeded = %+v", exceeded)
	}
}

func TestGateRequiresIdentity(t *testing.T) {
	gate := NewGate(NewMemoryService(3), nil)
	if _, err := gate.CheckLimit(context.Background(), "  "); !errors.Is(err, domain.ErrIdentityMissing) {
		t.Fatalf("CheckLimit err = %v", err)
	}
	if _, err := gate.Consume(context.Background(), ""); !errors.Is(err, domain.ErrIdentityMissing) {
		t.Fatalf("Consume err = %v", err)
	}
}

func TestGateNormalizesIdentity(t *testing.T) {
	svc := NewMemoryService(1)
	gate := NewGate(svc, nil)
	if _, err := gate.Consume(context.Background(), " Ana@Example.com "); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	status, _ := gate.CheckLimit(context.Background(), "ana@example.com")
	if status.CanProceed || status.Used != 1 {
		t.Fatalf("status = %+v, want 1/1 blocked", status)
	}
}

type quotaRow struct {
	used, max int
	err       error
}

func (r quotaRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 2 {
		return errors.New("want two destinations")
	}
	*dest[0].(*int) = r.used
	*dest[1].(*int) = r.max
	return nil
}

type stubExecutor struct {
	mu      sync.Mutex
	rows    map[string]quotaRow
	queries []string
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	row, ok := s.rows[query]
	if !ok {
		return quotaRow{err: pgx.ErrNoRows}
	}
	return row
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestPGServiceDefaultsWhenMissing(t *testing.T) {
	svc := NewPGService(&stubExecutor{}, 3)
	status, err := svc.CanRegenerate(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("CanRegenerate: %v", err)
	}
	if !status.CanProceed || status.Used != 0 || status.Max != 3 {
		t.Fatalf("status = %+v", status)
	}
}

func TestPGServiceConsume(t *testing.T) {
	exec := &stubExecutor{rows: map[string]quotaRow{
		sqlinline.QTryConsumeRegeneration: {used: 3, max: 3},
	}}
	status, err := NewPGService(exec, 3).ConsumeRegeneration(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatalf("ConsumeRegeneration: %v", err)
	}
	if status.Used != 3 || status.CanProceed {
		t.Fatalf("status = %+v, want 3/3 exhausted", status)
	}
}

func TestPGServiceConsumeAtCeiling(t *testing.T) {
	exec := &stubExecutor{rows: map[string]quotaRow{
		sqlinline.QSelectRegenerationQuota: {used: 3, max: 3},
	}}
	_, err := NewPGService(exec, 3).ConsumeRegeneration(context.Background(), "ana@example.com")
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if len(exec.queries) != 2 {
		t.Fatalf("queries = %d, want conditional update then read", len(exec.queries))
	}
}

func TestHTTPService(t *testing.T) {
	var mu sync.Mutex
	used := 2
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email != "ana@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Email is required"}`))
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer svc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/api/check-regeneration-limit":
			_ = json.NewEncoder(w).Encode(map[string]any{"canRegenerate": used < 3, "regenerationCount": used, "maxRegenerations": 3})
		case "/api/regenerate-images":
			if used >= 3 {
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "Regeneration limit reached", "regenerationCount": used, "maxRegenerations": 3})
				return
			}
			used++
			_ = json.NewEncoder(w).Encode(map[string]any{"regenerationCount": used, "maxRegenerations": 3})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gate := NewGate(NewHTTPService(srv.URL+"/", "svc-token", srv.Client()), nil)
	ctx := context.Background()

	status, err := gate.CheckLimit(ctx, "ana@example.com")
	if err != nil || !status.CanProceed || status.Used != 2 {
		t.Fatalf("CheckLimit = %+v, %v", status, err)
	}
	if status, err = gate.Consume(ctx, "ana@example.com"); err != nil || status.Used != 3 {
		t.Fatalf("Consume = %+v, %v", status, err)
	}
	if status, err = gate.CheckLimit(ctx, "ana@example.com"); err != nil || status.CanProceed {
		t.Fatalf("CheckLimit after consume = %+v, %v", status, err)
	}
	if _, err = gate.Consume(ctx, "ana@example.com"); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("Consume at ceiling err = %v", err)
	}
}

func TestMessageLocalized(t *testing.T) {
	exhausted := domain.QuotaStatus{Used: 3, Max: 3}
	if got := Message("en", exhausted); !strings.Contains(got, "all 3") {
		t.Fatalf("en message = %q", got)
	}
	if got := Message("id-ID", exhausted); !strings.Contains(got, "regenerasi") {
		t.Fatalf("id message = %q", got)
	}
	if got := Message("fr", domain.QuotaStatus{CanProceed: true, Used: 1, Max: 3}); got != "2 of 3 regenerations left." {
		t.Fatalf("fallback message = %q", got)
	}
	if got := IdentityMessage(""); !strings.Contains(got, "verify your email") {
		t.Fatalf("identity message = %q", got)
	}
}
