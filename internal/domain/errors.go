package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrIdentityMissing  = errors.New("verified identity required")
	ErrHistoryReadOnly  = errors.New("history view is read-only")
	ErrNoActiveRun      = errors.New("no active run")
	ErrUnknownTemplate  = errors.New("unknown template")
	ErrProviderFailure  = errors.New("provider failure")
	ErrInvalidImage     = errors.New("invalid image")
	ErrCorruptedHistory = errors.New("corrupted history")
)

// FailureKind distinguishes the retryable generation failures.
type FailureKind string

const (
	FailureTransient  FailureKind = "transient"
	FailureRateLimit  FailureKind = "rate_limit"
	FailureValidation FailureKind = "validation"
)

// GenerationError is returned by the generator client for any failed attempt,
// including images that could not be decoded.
type GenerationError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("generation %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("generation %s: %s", e.Kind, e.Message)
}

func (e *GenerationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Kind == FailureValidation {
		return ErrInvalidImage
	}
	return ErrProviderFailure
}

// RateLimited reports whether the failure came from rate limiting or quota
// exhaustion at the image provider.
func (e *GenerationError) RateLimited() bool {
	return e.Kind == FailureRateLimit
}

// QuotaExceededError carries the counter values observed when a regeneration
// was refused.
type QuotaExceededError struct {
	Used int
	Max  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("regeneration limit reached (%d/%d)", e.Used, e.Max)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// PersistenceError wraps a failed history write or read. It is never fatal.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
