package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/quota"
	"adstudio/internal/retryqueue"
	"adstudio/internal/scheduler"
	"adstudio/internal/session"
)

// Options wires one engine. Identity is the verified email of the owner; it
// may be empty until the user verifies, which only blocks RegenerateAll.
type Options struct {
	Identity                string
	Templates               []domain.Template
	Session                 *session.Manager
	Scheduler               *scheduler.Scheduler
	Queue                   *retryqueue.Queue
	Gate                    *quota.Gate
	Archive                 domain.ImageArchive
	SurfaceSingleItemErrors bool
	Logger                  *zerolog.Logger
}

// State is the read model exposed to the UI.
type State struct {
	View        session.View `json:"view"`
	Running     bool         `json:"running"`
	ActiveRuns  int          `json:"active_runs"`
	QueueLength int          `json:"queue_length"`
}

// Orchestrator is the engine façade: it starts runs, routes regenerations and
// switches between the live run and history.
type Orchestrator struct {
	opts    Options
	logger  zerolog.Logger
	session *session.Manager
	sched   *scheduler.Scheduler
	queue   *retryqueue.Queue
	gate    *quota.Gate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int32

	identityMu sync.RWMutex
	identity   string

	// gens counts single regenerations per (run, template) key. A result is
	// applied only while its generation is still the newest one.
	genMu sync.Mutex
	gens  map[string]uint64
}

func New(opts Options) *Orchestrator {
	if opts.Templates == nil {
		opts.Templates = domain.Catalog
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:     opts,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		session:  opts.Session,
		sched:    opts.Scheduler,
		queue:    opts.Queue,
		gate:     opts.Gate,
		ctx:      ctx,
		cancel:   cancel,
		identity: opts.Identity,
		gens:     map[string]uint64{},
	}
	if o.queue != nil {
		o.queue.SetHandler(o.retryQueued)
		o.sched.Pipeline().SetEscalator(o.queue.Enqueue)
	}
	return o
}

// SetIdentity records the verified email once the identity gate passes.
func (o *Orchestrator) SetIdentity(identity string) {
	o.identityMu.Lock()
	o.identity = identity
	o.identityMu.Unlock()
}

func (o *Orchestrator) currentIdentity() string {
	o.identityMu.RLock()
	defer o.identityMu.RUnlock()
	return o.identity
}

// GenerateAll starts a brand-new run for logo and returns it immediately with
// every template loading. Earlier runs still in flight keep writing into their
// own results.
func (o *Orchestrator) GenerateAll(logo domain.LogoRef) (domain.GenerationRun, error) {
	if logo.Empty() {
		return domain.GenerationRun{}, domain.ErrInvalidImage
	}
	run := o.session.StartRun(logo)
	o.launch(run)
	return run, nil
}

// RegenerateOne re-runs a single template of the live run. It is rejected
// while a past run is displayed.
func (o *Orchestrator) RegenerateOne(templateID string) (domain.Job, error) {
	if o.session.ViewingHistory() {
		return domain.Job{}, domain.ErrHistoryReadOnly
	}
	tpl, ok := domain.TemplateByID(o.opts.Templates, templateID)
	if !ok {
		return domain.Job{}, domain.ErrUnknownTemplate
	}
	live, ok := o.session.Live()
	if !ok {
		return domain.Job{}, domain.ErrNoActiveRun
	}

	key := retryqueue.Key(live.ID, tpl.ID)
	gen := o.claim(key)
	job := domain.LoadingJob(tpl.ID)
	if err := o.session.UpdateJob(live.ID, job); err != nil {
		return domain.Job{}, err
	}
	if o.queue != nil {
		o.queue.Remove(key)
	}

	o.wg.Add(1)
	o.active.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.active.Add(-1)
		result := o.sched.Pipeline().Run(o.ctx, scheduler.Request{
			RunID:        live.ID,
			Template:     tpl,
			Logo:         live.Logo,
			SurfaceError: o.opts.SurfaceSingleItemErrors,
			Superseded:   func() bool { return !o.current(key, gen) },
		})
		o.applyCurrent(live.ID, key, gen, result)
	}()
	return job, nil
}

// RegenerateAll starts a fresh run with the live logo after the quota gate
// lets it through. The counter is consumed right before the run starts.
func (o *Orchestrator) RegenerateAll(ctx context.Context) (domain.GenerationRun, domain.QuotaStatus, error) {
	if o.session.ViewingHistory() {
		return domain.GenerationRun{}, domain.QuotaStatus{}, domain.ErrHistoryReadOnly
	}
	identity := o.currentIdentity()
	if identity == "" {
		return domain.GenerationRun{}, domain.QuotaStatus{}, domain.ErrIdentityMissing
	}
	live, ok := o.session.Live()
	if !ok {
		return domain.GenerationRun{}, domain.QuotaStatus{}, domain.ErrNoActiveRun
	}
	if o.gate == nil {
		return domain.GenerationRun{}, domain.QuotaStatus{}, errors.New("quota gate not configured")
	}

	status, err := o.gate.CheckLimit(ctx, identity)
	if err != nil {
		return domain.GenerationRun{}, domain.QuotaStatus{}, err
	}
	if !status.CanProceed {
		return domain.GenerationRun{}, status, &domain.QuotaExceededError{Used: status.Used, Max: status.Max}
	}
	status, err = o.gate.Consume(ctx, identity)
	if err != nil {
		return domain.GenerationRun{}, status, err
	}

	run := o.session.StartRun(live.Logo)
	o.launch(run)
	return run, status, nil
}

// ViewHistory displays a past run read-only.
func (o *Orchestrator) ViewHistory(runID string) (domain.GenerationRun, error) {
	return o.session.SnapshotLiveAndSwitchTo(runID)
}

// BackToCurrent leaves history view.
func (o *Orchestrator) BackToCurrent() (domain.GenerationRun, bool) {
	return o.session.RestoreLive()
}

func (o *Orchestrator) State() State {
	st := State{
		View:       o.session.View(),
		ActiveRuns: int(o.active.Load()),
	}
	st.Running = st.ActiveRuns > 0
	if o.queue != nil {
		st.QueueLength = o.queue.Len()
	}
	return st
}

// Idle reports whether the engine has no run in flight, nothing queued or
// retrying and no event subscribers.
func (o *Orchestrator) Idle() bool {
	if o.active.Load() > 0 {
		return false
	}
	if o.queue != nil && !o.queue.Idle() {
		return false
	}
	return o.session.Watchers() == 0
}

// Session exposes the history manager for read access.
func (o *Orchestrator) Session() *session.Manager {
	return o.session
}

// Wait blocks until every run and single regeneration started so far has
// finished its inline attempts.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels in-flight work and stops the retry queue.
func (o *Orchestrator) Close() {
	o.cancel()
	if o.queue != nil {
		o.queue.Close()
	}
	o.wg.Wait()
}

func (o *Orchestrator) launch(run domain.GenerationRun) {
	o.wg.Add(1)
	o.active.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.active.Add(-1)
		summary := o.sched.Run(o.ctx, run.ID, run.Logo, o.opts.Templates, func(job domain.Job) {
			// a single regeneration started meanwhile owns the slot
			o.applyCurrent(run.ID, retryqueue.Key(run.ID, job.TemplateID), 0, job)
		})
		o.logger.Info().
			Str("run_id", run.ID).
			Int("succeeded", summary.Succeeded).
			Int("pending", summary.Pending).
			Msg("orchestrator: run finished")
		o.archive(run.ID)
	}()
}

func (o *Orchestrator) apply(runID string, job domain.Job) {
	if err := o.session.UpdateJob(runID, job); err != nil {
		// the run was evicted from history while its jobs were in flight
		o.logger.Debug().Err(err).Str("run_id", runID).Str("template_id", job.TemplateID).Msg("orchestrator: dropping result")
	}
}

// claim starts a new generation for key and returns it.
func (o *Orchestrator) claim(key string) uint64 {
	o.genMu.Lock()
	defer o.genMu.Unlock()
	o.gens[key]++
	return o.gens[key]
}

func (o *Orchestrator) current(key string, gen uint64) bool {
	o.genMu.Lock()
	defer o.genMu.Unlock()
	return o.gens[key] == gen
}

func (o *Orchestrator) applyCurrent(runID, key string, gen uint64, job domain.Job) bool {
	if !o.current(key, gen) {
		o.logger.Debug().Str("run_id", runID).Str("template_id", job.TemplateID).Msg("orchestrator: dropping superseded result")
		return false
	}
	o.apply(runID, job)
	return true
}

func (o *Orchestrator) retryQueued(ctx context.Context, item retryqueue.Item) {
	tpl, ok := domain.TemplateByID(o.opts.Templates, item.TemplateID)
	if !ok {
		return
	}
	if _, ok := o.session.Run(item.RunID); !ok {
		return
	}
	key := retryqueue.Key(item.RunID, item.TemplateID)
	o.genMu.Lock()
	gen := o.gens[key]
	o.genMu.Unlock()
	job := o.sched.Pipeline().Run(ctx, scheduler.Request{
		RunID:          item.RunID,
		Template:       tpl,
		Logo:           item.Logo,
		FirstEscalated: item.CreatedAt,
		Superseded:     func() bool { return !o.current(key, gen) },
	})
	if job.Status == domain.JobStatusSuccess && o.applyCurrent(item.RunID, key, gen, job) {
		o.archive(item.RunID)
	}
}

func (o *Orchestrator) archive(runID string) {
	identity := o.currentIdentity()
	if o.opts.Archive == nil || identity == "" {
		return
	}
	run, ok := o.session.Run(runID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	keys, err := o.opts.Archive.SaveRun(ctx, identity, run)
	if err != nil {
		o.logger.Warn().Err(err).Str("run_id", runID).Msg("orchestrator: archiving run failed")
		return
	}
	if len(keys) > 0 {
		o.logger.Debug().Str("run_id", runID).Int("images", len(keys)).Msg("orchestrator: run archived")
	}
}
