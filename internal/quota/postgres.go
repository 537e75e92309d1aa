package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/sqlinline"
)

// PGService stores counters in the regeneration_quotas table.
type PGService struct {
	db         infra.SQLExecutor
	defaultMax int
}

func NewPGService(db infra.SQLExecutor, defaultMax int) *PGService {
	if defaultMax <= 0 {
		defaultMax = DefaultMaxRegenerations
	}
	return &PGService{db: db, defaultMax: defaultMax}
}

func (s *PGService) CanRegenerate(ctx context.Context, identity string) (domain.QuotaStatus, error) {
	var status domain.QuotaStatus
	err := s.db.QueryRow(ctx, sqlinline.QSelectRegenerationQuota, identity).Scan(&status.Used, &status.Max)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuotaStatus{CanProceed: true, Max: s.defaultMax}, nil
	}
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("select quota: %w", err)
	}
	status.CanProceed = status.Used < status.Max
	return status, nil
}

// ConsumeRegeneration advances the counter in a single conditional statement,
// so it can never overshoot the ceiling.
func (s *PGService) ConsumeRegeneration(ctx context.Context, identity string) (domain.QuotaStatus, error) {
	var status domain.QuotaStatus
	err := s.db.QueryRow(ctx, sqlinline.QTryConsumeRegeneration, identity, s.defaultMax).Scan(&status.Used, &status.Max)
	if errors.Is(err, pgx.ErrNoRows) {
		current, cerr := s.CanRegenerate(ctx, identity)
		if cerr != nil {
			return domain.QuotaStatus{}, cerr
		}
		return current, &domain.QuotaExceededError{Used: current.Used, Max: current.Max}
	}
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("consume quota: %w", err)
	}
	status.CanProceed = status.Used < status.Max
	return status, nil
}

// SetCeiling changes the maximum for one identity, creating the row if needed.
func (s *PGService) SetCeiling(ctx context.Context, identity string, max int) (domain.QuotaStatus, error) {
	var status domain.QuotaStatus
	if err := s.db.QueryRow(ctx, sqlinline.QUpsertRegenerationCeiling, identity, max).Scan(&status.Used, &status.Max); err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("set ceiling: %w", err)
	}
	status.CanProceed = status.Used < status.Max
	return status, nil
}

// Reset zeroes the counter for one identity.
func (s *PGService) Reset(ctx context.Context, identity string) (domain.QuotaStatus, error) {
	var status domain.QuotaStatus
	err := s.db.QueryRow(ctx, sqlinline.QResetRegenerationCount, identity).Scan(&status.Used, &status.Max)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuotaStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("reset quota: %w", err)
	}
	status.CanProceed = status.Used < status.Max
	return status, nil
}

var _ domain.QuotaService = (*PGService)(nil)
