package quota

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
)

// Gate wraps the Quota Service for bulk regenerations.
//
// Callers check first and consume immediately before starting the run. The
// pair is not atomic: two concurrent requests for the same identity may both
// pass CheckLimit. Services that can advance the counter conditionally (the
// Postgres one does) still refuse the second Consume.
type Gate struct {
	svc    domain.QuotaService
	logger zerolog.Logger
}

func NewGate(svc domain.QuotaService, logger *zerolog.Logger) *Gate {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &Gate{svc: svc, logger: l.With().Str("component", "quota").Logger()}
}

// CheckLimit reads the remote counter. It never mutates it.
func (g *Gate) CheckLimit(ctx context.Context, identity string) (domain.QuotaStatus, error) {
	identity = normalizeIdentity(identity)
	if identity == "" {
		return domain.QuotaStatus{}, domain.ErrIdentityMissing
	}
	status, err := g.svc.CanRegenerate(ctx, identity)
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("check regeneration limit: %w", err)
	}
	status.CanProceed = status.CanProceed && status.Used < status.Max
	return status, nil
}

// Consume advances the counter by one. It fails with *domain.QuotaExceededError
// when the identity is already at its ceiling.
func (g *Gate) Consume(ctx context.Context, identity string) (domain.QuotaStatus, error) {
	identity = normalizeIdentity(identity)
	if identity == "" {
		return domain.QuotaStatus{}, domain.ErrIdentityMissing
	}
	status, err := g.svc.ConsumeRegeneration(ctx, identity)
	if err != nil {
		return status, err
	}
	g.logger.Info().Int("used", status.Used).Int("max", status.Max).Msg("quota: regeneration consumed")
	return status, nil
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
