package orchestrator

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/quota"
	"adstudio/internal/retry"
	"adstudio/internal/retryqueue"
	"adstudio/internal/scheduler"
	"adstudio/internal/session"
)

const (
	archiveTimeout = 30 * time.Second
	loadTimeout    = 10 * time.Second
)

// Deps are the collaborators shared by every per-identity engine.
type Deps struct {
	Generator domain.ImageGenerator
	History   domain.HistoryRepository
	Gate      *quota.Gate
	Archive   domain.ImageArchive
	Templates []domain.Template
	Engine    infra.EngineConfig
	Sleep     scheduler.SleepFunc
	Now       func() time.Time
	Logger    *zerolog.Logger
}

// Registry keeps one engine per session owner (the token subject), created on
// first use with its own history key and retry queue. The verified email is
// attached separately through SetIdentity. With Engine.IdleTTL set, engines
// unused for that long are closed; their history is already persisted.
type Registry struct {
	deps   Deps
	logger zerolog.Logger
	stop   chan struct{}

	mu      sync.Mutex
	engines map[string]*entry
	closed  bool
}

// entry is one engine; ready closes once its history is loaded.
type entry struct {
	o        *Orchestrator
	ready    chan struct{}
	lastUsed time.Time
}

func NewRegistry(deps Deps) *Registry {
	logger := zerolog.New(io.Discard)
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	if deps.Templates == nil {
		deps.Templates = domain.Catalog
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Registry{deps: deps, logger: logger, stop: make(chan struct{}), engines: map[string]*entry{}}
	if ttl := deps.Engine.IdleTTL; ttl > 0 {
		go r.sweepLoop(max(ttl/4, time.Second))
	}
	return r
}

// HistoryKey names the persisted history list of an owner.
func HistoryKey(owner string) string {
	return "history:" + strings.ToLower(strings.TrimSpace(owner))
}

// Get returns the engine for owner, loading its history on first use. The
// load runs outside the registry lock; concurrent callers for the same owner
// wait for it, callers for other owners do not.
func (r *Registry) Get(ctx context.Context, owner string) (*Orchestrator, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return nil, domain.ErrUnauthorized
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, context.Canceled
	}
	if e, ok := r.engines[owner]; ok {
		e.lastUsed = r.deps.Now()
		r.mu.Unlock()
		select {
		case <-e.ready:
			return e.o, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &entry{o: r.build(owner), ready: make(chan struct{}), lastUsed: r.deps.Now()}
	r.engines[owner] = e
	count := len(r.engines)
	r.mu.Unlock()

	// detached so a caller hanging up does not leave the engine without history
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
	e.o.Session().Load(loadCtx)
	cancel()
	close(e.ready)
	r.logger.Info().Int("engines", count).Msg("orchestrator: engine created")
	return e.o, nil
}

// Len returns how many engines are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Sweep closes engines unused for longer than Engine.IdleTTL that have no
// work in flight and no subscribers. It returns how many were closed.
func (r *Registry) Sweep() int {
	ttl := r.deps.Engine.IdleTTL
	if ttl <= 0 {
		return 0
	}
	now := r.deps.Now()
	var idle []*Orchestrator
	r.mu.Lock()
	for owner, e := range r.engines {
		select {
		case <-e.ready:
		default:
			continue
		}
		if now.Sub(e.lastUsed) < ttl || !e.o.Idle() {
			continue
		}
		delete(r.engines, owner)
		idle = append(idle, e.o)
	}
	remaining := len(r.engines)
	r.mu.Unlock()

	for _, o := range idle {
		o.Close()
	}
	if len(idle) > 0 {
		r.logger.Info().Int("evicted", len(idle)).Int("engines", remaining).Msg("orchestrator: idle engines closed")
	}
	return len(idle)
}

func (r *Registry) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close shuts every engine down.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	engines := r.engines
	r.engines = map[string]*entry{}
	close(r.stop)
	r.mu.Unlock()

	for _, e := range engines {
		e.o.Close()
	}
}

func (r *Registry) build(owner string) *Orchestrator {
	cfg := r.deps.Engine
	logger := r.logger.With().Str("owner", owner).Logger()

	queue := retryqueue.New(retryqueue.Options{
		Interval:    cfg.QueueInterval,
		MaxSize:     cfg.QueueMaxSize,
		Concurrency: cfg.QueueConcurrency,
		MaxAge:      cfg.QueueMaxAge,
		Now:         r.deps.Now,
		Logger:      &logger,
	})
	pipeline := scheduler.NewPipeline(r.deps.Generator, scheduler.PipelineOptions{
		Policy: retry.Policy{
			BaseDelay:            cfg.BaseDelay,
			MaxDelay:             cfg.MaxDelay,
			MaxAttempts:          cfg.MaxAttempts,
			RateLimitDelay:       cfg.RateLimitDelay,
			RateLimitMaxAttempts: cfg.RateLimitMaxAttempts,
		},
		Sleep:  r.deps.Sleep,
		Logger: &logger,
	})
	mgr := session.NewManager(session.Options{
		Key:                HistoryKey(owner),
		Store:              r.deps.History,
		Templates:          r.deps.Templates,
		HistoryCap:         cfg.HistoryCap,
		PersistCap:         cfg.PersistCap,
		PersistFallbackCap: cfg.PersistFallbackCap,
		Now:                r.deps.Now,
		Logger:             &logger,
	})
	return New(Options{
		Templates:               r.deps.Templates,
		Session:                 mgr,
		Scheduler:               scheduler.New(pipeline, cfg.BatchSize, &logger),
		Queue:                   queue,
		Gate:                    r.deps.Gate,
		Archive:                 r.deps.Archive,
		SurfaceSingleItemErrors: cfg.SurfaceSingleItemErrors,
		Logger:                  &logger,
	})
}
