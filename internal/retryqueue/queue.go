package retryqueue

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"adstudio/internal/domain"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxSize     = 50
	DefaultConcurrency = 3
	DefaultMaxAge      = 30 * time.Minute
)

// Item is a job that exhausted its inline attempt budget.
type Item struct {
	ID         string
	RunID      string
	TemplateID string
	Logo       domain.LogoRef
	Prompt     string
	Attempts   int
	LastError  string
	// CreatedAt is the first escalation time and survives re-enqueues, so a
	// permanently failing job eventually goes stale.
	CreatedAt time.Time
}

// Key identifies the (run, template) pair an item retries.
func Key(runID, templateID string) string {
	return runID + "/" + templateID
}

// Handler re-runs one item through the generation pipeline.
type Handler func(ctx context.Context, item Item)

// Options tunes the queue. Zero values fall back to the defaults.
type Options struct {
	Interval    time.Duration
	MaxSize     int
	Concurrency int
	MaxAge      time.Duration
	Now         func() time.Time
	Logger      *zerolog.Logger
}

// Queue holds escalated jobs and periodically offers them back to its handler.
// The ticker only runs while items are pending.
type Queue struct {
	opts   Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted

	mu       sync.Mutex
	items    map[string]Item
	order    []string
	handler  Handler
	running  bool
	stopTick chan struct{}
	busy     int
	inflight sync.WaitGroup
}

// New constructs an idle queue.
func New(opts Options) *Queue {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		opts:   opts,
		logger: logger.With().Str("component", "retryqueue").Logger(),
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(opts.Concurrency)),
		items:  make(map[string]Item),
	}
}

// SetHandler installs the pipeline callback. It must be called before the
// first Enqueue.
func (q *Queue) SetHandler(h Handler) {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
}

// Enqueue adds an item and starts the processor if it is idle. It returns
// false when the queue is full and the item was dropped. An item for a
// (run, template) pair already queued replaces the pending one.
func (q *Queue) Enqueue(item Item) bool {
	if item.ID == "" {
		item.ID = Key(item.RunID, item.TemplateID)
	}
	if item.ID == "/" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = q.opts.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return false
	}
	if _, exists := q.items[item.ID]; !exists {
		if len(q.items) >= q.opts.MaxSize {
			q.logger.Warn().Str("item_id", item.ID).Int("size", len(q.items)).Msg("retryqueue: full, dropping item")
			return false
		}
		q.order = append(q.order, item.ID)
	}
	q.items[item.ID] = item
	q.logger.Info().
		Str("run_id", item.RunID).
		Str("template_id", item.TemplateID).
		Int("size", len(q.items)).
		Msg("retryqueue: item added")
	q.startLocked()
	return true
}

// Remove drops an item without retrying it.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	q.removeLocked(id)
	q.mu.Unlock()
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns the pending items in insertion order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.items[id])
	}
	return out
}

// Idle reports whether nothing is pending and no handler is running.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.busy == 0
}

// Contains reports whether an item with the given id is pending.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[id]
	return ok
}

// Running reports whether the periodic processor is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Clear empties the queue and stops the processor.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = make(map[string]Item)
	q.order = nil
	q.stopLocked()
	q.mu.Unlock()
}

// Close stops the processor, cancels in-flight handlers and waits for them.
func (q *Queue) Close() {
	q.mu.Lock()
	q.stopLocked()
	q.mu.Unlock()
	q.cancel()
	q.inflight.Wait()
}

// Wait blocks until every handler started so far has returned.
func (q *Queue) Wait() {
	q.inflight.Wait()
}

// Process runs one tick: stale items are evicted, then up to Concurrency items
// are removed and handed to the handler. Handlers run asynchronously; the
// semaphore bounds how many run at once across ticks.
func (q *Queue) Process() {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.stopLocked()
		q.mu.Unlock()
		return
	}
	now := q.opts.Now()
	handler := q.handler
	var picked []Item
	for _, id := range append([]string(nil), q.order...) {
		item := q.items[id]
		if now.Sub(item.CreatedAt) > q.opts.MaxAge {
			q.logger.Info().Str("run_id", item.RunID).Str("template_id", item.TemplateID).Msg("retryqueue: evicting stale item")
			q.removeLocked(id)
			continue
		}
		if handler == nil || !q.sem.TryAcquire(1) {
			continue
		}
		q.removeLocked(id)
		picked = append(picked, item)
	}
	if len(q.items) == 0 && len(picked) == 0 {
		q.stopLocked()
	}
	q.inflight.Add(len(picked))
	q.busy += len(picked)
	q.mu.Unlock()

	for _, item := range picked {
		item := item
		q.logger.Info().
			Str("run_id", item.RunID).
			Str("template_id", item.TemplateID).
			Int("attempts", item.Attempts).
			Msg("retryqueue: retrying item")
		go func() {
			defer q.inflight.Done()
			defer q.sem.Release(1)
			defer q.done()
			handler(q.ctx, item)
		}()
	}
}

func (q *Queue) done() {
	q.mu.Lock()
	q.busy--
	q.mu.Unlock()
}

func (q *Queue) removeLocked(id string) {
	if _, ok := q.items[id]; !ok {
		return
	}
	delete(q.items, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *Queue) startLocked() {
	if q.running {
		return
	}
	q.running = true
	stop := make(chan struct{})
	q.stopTick = stop
	q.logger.Debug().Dur("interval", q.opts.Interval).Msg("retryqueue: processor started")
	go q.loop(stop)
}

func (q *Queue) stopLocked() {
	if !q.running {
		return
	}
	q.running = false
	close(q.stopTick)
	q.stopTick = nil
	q.logger.Debug().Msg("retryqueue: processor stopped")
}

func (q *Queue) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(q.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.Process()
		}
	}
}
