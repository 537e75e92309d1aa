package scheduler

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"adstudio/internal/domain"
)

// DefaultBatchSize is how many jobs are in flight at once within a run.
const DefaultBatchSize = 10

// Sink receives every job the moment it reaches a terminal state.
type Sink func(job domain.Job)

// Summary counts the outcomes of one scheduled run.
type Summary struct {
	Succeeded int
	Pending   int
	Failed    int
}

// Scheduler fans a run out in consecutive batches. A batch is fully joined
// before the next starts; results are pushed to the sink as they arrive.
type Scheduler struct {
	pipeline  *Pipeline
	batchSize int
	logger    zerolog.Logger
}

func New(pipeline *Pipeline, batchSize int, logger *zerolog.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &Scheduler{
		pipeline:  pipeline,
		batchSize: batchSize,
		logger:    l.With().Str("component", "scheduler").Logger(),
	}
}

// Pipeline exposes the per-job pipeline so single regenerations and the retry
// queue share it.
func (s *Scheduler) Pipeline() *Pipeline {
	return s.pipeline
}

// Run generates every template for the run. It blocks until the last batch
// joins.
func (s *Scheduler) Run(ctx context.Context, runID string, logo domain.LogoRef, templates []domain.Template, sink Sink) Summary {
	var summary Summary
	results := make(chan domain.Job, s.batchSize)

	for start := 0; start < len(templates); start += s.batchSize {
		end := min(start+s.batchSize, len(templates))
		batch := templates[start:end]
		s.logger.Debug().Str("run_id", runID).Int("batch_start", start).Int("batch_len", len(batch)).Msg("scheduler: batch started")

		var g errgroup.Group
		for _, tpl := range batch {
			tpl := tpl
			g.Go(func() error {
				job := s.pipeline.Run(ctx, Request{RunID: runID, Template: tpl, Logo: logo})
				if sink != nil {
					sink(job)
				}
				results <- job
				return nil
			})
		}
		for range batch {
			switch job := <-results; job.Status {
			case domain.JobStatusSuccess:
				summary.Succeeded++
			case domain.JobStatusError:
				summary.Failed++
			default:
				summary.Pending++
			}
		}
		_ = g.Wait()
	}

	s.logger.Info().
		Str("run_id", runID).
		Int("succeeded", summary.Succeeded).
		Int("pending", summary.Pending).
		Msg("scheduler: run finished")
	return summary
}
