package session

import (
	"context"
	"crypto/rand"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"adstudio/internal/domain"
)

const (
	DefaultHistoryCap         = 15
	DefaultPersistCap         = 10
	DefaultPersistFallbackCap = 5

	persistTimeout = 5 * time.Second
)

// Options wires a Manager.
type Options struct {
	// Key names the history list in the store, one per identity.
	Key                string
	Store              domain.HistoryRepository
	Templates          []domain.Template
	HistoryCap         int
	PersistCap         int
	PersistFallbackCap int
	Now                func() time.Time
	Logger             *zerolog.Logger
}

// View is what the UI currently shows.
type View struct {
	Run            *domain.GenerationRun `json:"run,omitempty"`
	Live           bool                  `json:"live"`
	ViewingHistory bool                  `json:"viewing_history"`
}

// LiveSnapshot remembers the live run while a past run is displayed. It holds
// the live run itself, so updates landing meanwhile are not lost.
type LiveSnapshot struct {
	RunID string
	Logo  domain.LogoRef
	run   *domain.GenerationRun
}

// Manager owns the live run, the history list and its persistence. All
// methods are safe for concurrent use.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.RWMutex
	runs     []*domain.GenerationRun
	live     *domain.GenerationRun
	viewing  string
	snapshot *LiveSnapshot

	persistMu sync.Mutex
	dirty     bool
	writing   bool

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	watchMu  sync.Mutex
	watchers map[int]chan Event
	nextID   int
}

func NewManager(opts Options) *Manager {
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = DefaultHistoryCap
	}
	if opts.PersistCap <= 0 {
		opts.PersistCap = DefaultPersistCap
	}
	if opts.PersistFallbackCap <= 0 || opts.PersistFallbackCap > opts.PersistCap {
		opts.PersistFallbackCap = min(DefaultPersistFallbackCap, opts.PersistCap)
	}
	if opts.Templates == nil {
		opts.Templates = domain.Catalog
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Manager{
		opts:     opts,
		logger:   logger.With().Str("component", "session").Str("history_key", opts.Key).Logger(),
		entropy:  ulid.Monotonic(rand.Reader, 0),
		watchers: map[int]chan Event{},
	}
}

// Load replaces the history with the persisted list. A failed or corrupted
// read leaves the history empty.
func (m *Manager) Load(ctx context.Context) {
	if m.opts.Store == nil {
		return
	}
	stored, err := m.opts.Store.Get(ctx, m.opts.Key)
	if err != nil {
		m.logger.Warn().Err(err).Msg("session: discarding unreadable history")
		stored = nil
	}

	runs := make([]*domain.GenerationRun, 0, len(stored))
	for i := range stored {
		run := stored[i]
		if run.ID == "" {
			continue
		}
		run.Results = domain.NormalizeResults(run.Results, m.opts.Templates)
		runs = append(runs, &run)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if len(runs) > m.opts.HistoryCap {
		runs = runs[:m.opts.HistoryCap]
	}

	m.mu.Lock()
	m.runs = runs
	m.mu.Unlock()
	m.logger.Debug().Int("runs", len(runs)).Msg("session: history loaded")
	m.publish(Event{Kind: EventHistoryLoaded})
}

// StartRun creates a new live run with every template loading and prepends it
// to history, evicting the oldest entry past the cap.
func (m *Manager) StartRun(logo domain.LogoRef) domain.GenerationRun {
	now := m.opts.Now()
	run := &domain.GenerationRun{
		ID:        m.newID(now),
		Logo:      logo.Clone(),
		Results:   domain.NewRunResults(m.opts.Templates),
		CreatedAt: now,
	}

	m.mu.Lock()
	m.runs = append([]*domain.GenerationRun{run}, m.runs...)
	if len(m.runs) > m.opts.HistoryCap {
		evicted := m.runs[m.opts.HistoryCap:]
		for _, old := range evicted {
			m.logger.Debug().Str("run_id", old.ID).Msg("session: evicting run from history")
		}
		m.runs = m.runs[:m.opts.HistoryCap]
	}
	m.live = run
	m.viewing = run.ID
	m.snapshot = nil
	out := run.Clone()
	m.mu.Unlock()

	m.logger.Info().Str("run_id", run.ID).Int("templates", len(run.Results)).Msg("session: run started")
	m.publish(Event{Kind: EventRunStarted, RunID: run.ID, Live: true})
	m.persist()
	return out
}

// UpdateJob stores job in the run it belongs to, whether or not that run is
// still live.
func (m *Manager) UpdateJob(runID string, job domain.Job) error {
	m.mu.Lock()
	run := m.findLocked(runID)
	if run == nil {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if _, ok := run.Results[job.TemplateID]; !ok {
		m.mu.Unlock()
		return domain.ErrUnknownTemplate
	}
	run.Results[job.TemplateID] = job
	live := m.live != nil && m.live.ID == runID
	m.mu.Unlock()

	m.publish(Event{Kind: EventJobUpdated, RunID: runID, Job: &job, Live: live})
	m.persist()
	return nil
}

// SnapshotLiveAndSwitchTo displays a past run. The live run is remembered only
// when the live run is what is currently shown, so hopping between past runs
// never overwrites it.
func (m *Manager) SnapshotLiveAndSwitchTo(runID string) (domain.GenerationRun, error) {
	m.mu.Lock()
	run := m.findLocked(runID)
	if run == nil {
		m.mu.Unlock()
		return domain.GenerationRun{}, domain.ErrNotFound
	}
	if m.live != nil && m.live.ID == runID {
		m.viewing = runID
		m.snapshot = nil
		out := run.Clone()
		m.mu.Unlock()
		m.publish(Event{Kind: EventViewChanged, RunID: runID, Live: true})
		return out, nil
	}
	if !m.viewingHistoryLocked() {
		snap := &LiveSnapshot{run: m.live}
		if m.live != nil {
			snap.RunID = m.live.ID
			snap.Logo = m.live.Logo
		}
		m.snapshot = snap
	}
	m.viewing = runID
	out := run.Clone()
	m.mu.Unlock()

	m.publish(Event{Kind: EventViewChanged, RunID: runID})
	return out, nil
}

// RestoreLive returns to the live run. ok is false when there is no live run
// in this session.
func (m *Manager) RestoreLive() (domain.GenerationRun, bool) {
	m.mu.Lock()
	live := m.live
	if m.snapshot != nil {
		live = m.snapshot.run
		m.snapshot = nil
	}
	m.viewing = ""
	var out domain.GenerationRun
	if live != nil {
		m.viewing = live.ID
		out = live.Clone()
	}
	m.mu.Unlock()

	m.publish(Event{Kind: EventViewChanged, RunID: out.ID, Live: true})
	return out, live != nil
}

// ViewingHistory reports whether a non-live run is displayed.
func (m *Manager) ViewingHistory() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewingHistoryLocked()
}

func (m *Manager) viewingHistoryLocked() bool {
	if m.viewing == "" {
		return false
	}
	return m.live == nil || m.viewing != m.live.ID
}

// View returns a copy of what is displayed.
func (m *Manager) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := View{ViewingHistory: m.viewingHistoryLocked()}
	if run := m.findLocked(m.viewing); run != nil {
		c := run.Clone()
		v.Run = &c
		v.Live = !v.ViewingHistory
	}
	return v
}

// Live returns a copy of the live run.
func (m *Manager) Live() (domain.GenerationRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.live == nil {
		return domain.GenerationRun{}, false
	}
	return m.live.Clone(), true
}

// Snapshot returns the remembered live state while a past run is displayed.
func (m *Manager) Snapshot() (LiveSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return LiveSnapshot{}, false
	}
	return *m.snapshot, true
}

// Runs returns copies of the history, newest first.
func (m *Manager) Runs() []domain.GenerationRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.GenerationRun, len(m.runs))
	for i, run := range m.runs {
		out[i] = run.Clone()
	}
	return out
}

// Run returns a copy of one run from history or the live run.
func (m *Manager) Run(runID string) (domain.GenerationRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run := m.findLocked(runID)
	if run == nil {
		return domain.GenerationRun{}, false
	}
	return run.Clone(), true
}

func (m *Manager) findLocked(runID string) *domain.GenerationRun {
	if runID == "" {
		return nil
	}
	if m.live != nil && m.live.ID == runID {
		return m.live
	}
	for _, run := range m.runs {
		if run.ID == runID {
			return run
		}
	}
	return nil
}

func (m *Manager) newID(now time.Time) string {
	m.entropyMu.Lock()
	defer m.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), m.entropy).String()
}
