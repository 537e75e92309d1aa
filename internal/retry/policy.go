package retry

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"adstudio/internal/domain"
)

// Action is the advice returned for one finished attempt.
type Action int

const (
	ActionSuccess Action = iota
	ActionRetry
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionSuccess:
		return "success"
	case ActionRetry:
		return "retry"
	case ActionEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Decision tells the caller what to do next. Delay is only meaningful for
// ActionRetry.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Attempt tracks how far a job has progressed through its inline budget.
// RateLimited counts only rate-limited failures, including the current one.
type Attempt struct {
	Number      int
	RateLimited int
}

// Policy decides whether and when a failed generation is retried inline.
type Policy struct {
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxAttempts          int
	RateLimitDelay       time.Duration
	RateLimitMaxAttempts int
}

// DefaultPolicy returns the production schedule: 2s doubling to 60s over 10
// attempts, and a 2s fast path for at most 2 rate-limited attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:            2 * time.Second,
		MaxDelay:             60 * time.Second,
		MaxAttempts:          10,
		RateLimitDelay:       2 * time.Second,
		RateLimitMaxAttempts: 2,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.RateLimitDelay <= 0 {
		p.RateLimitDelay = def.RateLimitDelay
	}
	if p.RateLimitMaxAttempts <= 0 {
		p.RateLimitMaxAttempts = def.RateLimitMaxAttempts
	}
	return p
}

// Limit returns the effective inline attempt budget.
func (p Policy) Limit() int {
	return p.normalized().MaxAttempts
}

// Backoff returns min(base * 2^(attempt-1), max) for a 1-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	multiplier := math.Pow(2, float64(attempt-1))
	delay := float64(p.BaseDelay) * multiplier
	if delay >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Decide classifies the outcome of attempt and advises the caller. A nil err
// means success. The last allowed attempt always escalates on failure.
func (p Policy) Decide(attempt Attempt, err error) Decision {
	if err == nil {
		return Decision{Action: ActionSuccess}
	}
	p = p.normalized()
	if attempt.Number >= p.MaxAttempts {
		return Decision{Action: ActionEscalate}
	}
	if IsRateLimited(err) {
		if attempt.RateLimited >= p.RateLimitMaxAttempts {
			return Decision{Action: ActionEscalate}
		}
		return Decision{Action: ActionRetry, Delay: p.RateLimitDelay}
	}
	return Decision{Action: ActionRetry, Delay: p.Backoff(attempt.Number)}
}

var rateLimitMarkers = []string{
	"rate limit",
	"ratelimit",
	"rate_limit",
	"too many requests",
	"429",
	"quota",
	"resource exhausted",
	"resource_exhausted",
}

// IsRateLimited reports whether err signals provider-side rate limiting or
// quota exhaustion.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var genErr *domain.GenerationError
	if errors.As(err, &genErr) {
		if genErr.RateLimited() || genErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
