package domain

import "context"

// ImageGenerator turns a logo and prompt into a validated image reference
// (URL or data URI).
type ImageGenerator interface {
	Generate(ctx context.Context, logo LogoRef, prompt string) (string, error)
}

// QuotaStatus is the remote regeneration counter for one identity.
type QuotaStatus struct {
	CanProceed bool `json:"can_regenerate"`
	Used       int  `json:"used"`
	Max        int  `json:"max"`
}

// QuotaService is the external per-identity regeneration counter.
type QuotaService interface {
	CanRegenerate(ctx context.Context, identity string) (QuotaStatus, error)
	ConsumeRegeneration(ctx context.Context, identity string) (QuotaStatus, error)
}

// HistoryRepository is the durable key-value store holding an ordered list of
// runs. Implementations must never panic on corrupted data; they return
// ErrCorruptedHistory instead.
type HistoryRepository interface {
	Put(ctx context.Context, key string, runs []GenerationRun, maxLen int) error
	Get(ctx context.Context, key string) ([]GenerationRun, error)
}

// ImageArchive stores successful images of a finished run.
type ImageArchive interface {
	SaveRun(ctx context.Context, identity string, run GenerationRun) ([]string, error)
}
