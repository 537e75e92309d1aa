package scheduler

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/retry"
	"adstudio/internal/retryqueue"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Escalator hands an exhausted job to the background retry queue. It reports
// false when the job was dropped.
type Escalator func(item retryqueue.Item) bool

// Request is one job to drive to a terminal state.
type Request struct {
	RunID    string
	Template domain.Template
	Logo     domain.LogoRef
	// FirstEscalated is carried over from a queued item so its age keeps
	// counting from the first time it gave up.
	FirstEscalated time.Time
	// SurfaceError renders an exhausted job as error instead of escalating it.
	SurfaceError bool
	// Superseded reports whether a newer request for the same job has
	// started. A superseded job is not escalated.
	Superseded func() bool
}

// Pipeline runs the attempt, decide, wait loop for a single job.
type Pipeline struct {
	generator domain.ImageGenerator
	policy    retry.Policy
	sleep     SleepFunc
	escalate  Escalator
	logger    zerolog.Logger
}

// PipelineOptions wires a Pipeline. Zero values use production defaults.
type PipelineOptions struct {
	Policy   retry.Policy
	Sleep    SleepFunc
	Escalate Escalator
	Logger   *zerolog.Logger
}

func NewPipeline(generator domain.ImageGenerator, opts PipelineOptions) *Pipeline {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Pipeline{
		generator: generator,
		policy:    opts.Policy,
		sleep:     sleep,
		escalate:  opts.Escalate,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// SetEscalator replaces the escalation hook. It must be called before Run is
// used concurrently.
func (p *Pipeline) SetEscalator(e Escalator) {
	p.escalate = e
}

// Run drives one job until it succeeds or exhausts its inline budget. The
// returned job is success with a validated image, or loading when the job was
// handed to the retry queue. With SurfaceError set an exhausted job comes back
// as error and is not queued.
func (p *Pipeline) Run(ctx context.Context, req Request) domain.Job {
	tpl := req.Template
	var rateLimited int
	for attempt := 1; ; attempt++ {
		ref, err := p.generator.Generate(ctx, req.Logo, tpl.Prompt)
		if err == nil {
			if attempt > 1 {
				p.logger.Info().Str("run_id", req.RunID).Str("template_id", tpl.ID).Int("attempt", attempt).Msg("pipeline: succeeded after retry")
			}
			return domain.Job{TemplateID: tpl.ID, Status: domain.JobStatusSuccess, ImageURL: ref, Attempt: attempt}
		}
		if ctx.Err() != nil {
			// shutting down: keep the job masked rather than reporting a failure
			return domain.Job{TemplateID: tpl.ID, Status: domain.JobStatusLoading, Attempt: attempt}
		}

		isRateLimited := retry.IsRateLimited(err)
		if isRateLimited {
			rateLimited++
		}
		decision := p.policy.Decide(retry.Attempt{Number: attempt, RateLimited: rateLimited}, err)
		if decision.Action == retry.ActionRetry {
			p.logger.Debug().
				Str("run_id", req.RunID).
				Str("template_id", tpl.ID).
				Int("attempt", attempt).
				Bool("rate_limited", isRateLimited).
				Dur("delay", decision.Delay).
				Err(err).
				Msg("pipeline: attempt failed, retrying")
			if err := p.sleep(ctx, decision.Delay); err != nil {
				return domain.Job{TemplateID: tpl.ID, Status: domain.JobStatusLoading, Attempt: attempt}
			}
			continue
		}

		return p.exhausted(req, attempt, err)
	}
}

func (p *Pipeline) exhausted(req Request, attempts int, err error) domain.Job {
	tpl := req.Template
	p.logger.Warn().
		Str("run_id", req.RunID).
		Str("template_id", tpl.ID).
		Int("attempts", attempts).
		Err(err).
		Msg("pipeline: inline attempts exhausted")

	if req.SurfaceError {
		return domain.Job{TemplateID: tpl.ID, Status: domain.JobStatusError, ErrorDetail: err.Error(), Attempt: attempts}
	}

	if req.Superseded != nil && req.Superseded() {
		p.logger.Debug().Str("run_id", req.RunID).Str("template_id", tpl.ID).Msg("pipeline: superseded, not escalating")
		return domain.Job{TemplateID: tpl.ID, Status: domain.JobStatusLoading, Attempt: attempts}
	}
	if p.escalate != nil {
		queued := p.escalate(retryqueue.Item{
			RunID:      req.RunID,
			TemplateID: tpl.ID,
			Logo:       req.Logo,
			Prompt:     tpl.Prompt,
			Attempts:   attempts,
			LastError:  err.Error(),
			CreatedAt:  req.FirstEscalated,
		})
		if !queued {
			p.logger.Warn().Str("run_id", req.RunID).Str("template_id", tpl.ID).Msg("pipeline: retry queue full, job stays masked")
		}
	}
	return domain.Job{TemplateID: tpl.ID, Status: domain.JobStatusLoading, Attempt: attempts}
}

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
