package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adstudio/internal/domain"
)

type memoryStore struct {
	mu       sync.Mutex
	data     map[string][]domain.GenerationRun
	puts     []int
	failOver int
	failNext int
	getErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string][]domain.GenerationRun{}, failOver: -1}
}

func (s *memoryStore) Put(ctx context.Context, key string, runs []domain.GenerationRun, maxLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(runs) > maxLen {
		runs = runs[:maxLen]
	}
	s.puts = append(s.puts, len(runs))
	if s.failNext > 0 {
		s.failNext--
		return errors.New("connection reset")
	}
	if s.failOver >= 0 && len(runs) > s.failOver {
		return errors.New("storage quota exceeded")
	}
	s.data[key] = append([]domain.GenerationRun(nil), runs...)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]domain.GenerationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return append([]domain.GenerationRun(nil), s.data[key]...), nil
}

func (s *memoryStore) putSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.puts...)
}

func (s *memoryStore) stored(key string) []domain.GenerationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key]
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

var testTemplates = []domain.Template{
	{ID: "bus-wrap", Prompt: "bus"},
	{ID: "car-wrap", Prompt: "car"},
	{ID: "metro-ad", Prompt: "metro"},
}

func newTestManager(store domain.HistoryRepository) *Manager {
	clock := &stepClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	return NewManager(Options{
		Key:       "history:ana@example.com",
		Store:     store,
		Templates: testTemplates,
		Now:       clock.Now,
	})
}

func logo(name string) domain.LogoRef {
	return domain.LogoRef{Name: name, MIMEType: "image/png", Data: []byte(name)}
}

func TestStartRunDefaultsEveryTemplateToLoading(t *testing.T) {
	m := newTestManager(nil)
	run := m.StartRun(logo("acme"))
	if len(run.Results) != len(testTemplates) {
		t.Fatalf("results = %d, want %d", len(run.Results), len(testTemplates))
	}
	for _, tpl := range testTemplates {
		if run.Results[tpl.ID].Status != domain.JobStatusLoading {
			t.Fatalf("%s status = %s", tpl.ID, run.Results[tpl.ID].Status)
		}
	}
	if m.ViewingHistory() {
		t.Fatal("a new run must be live")
	}
}

func TestStartRunCopiesLogo(t *testing.T) {
	m := newTestManager(nil)
	l := logo("acme")
	run := m.StartRun(l)
	l.Data[0] = 'X'
	stored, _ := m.Run(run.ID)
	if string(stored.Logo.Data) != "acme" {
		t.Fatalf("logo mutated through caller: %q", stored.Logo.Data)
	}
}

func TestHistoryCapAndOrdering(t *testing.T) {
	m := newTestManager(nil)
	var ids []string
	for i := 0; i < 16; i++ {
		ids = append(ids, m.StartRun(logo("acme")).ID)
	}
	runs := m.Runs()
	if len(runs) != 15 {
		t.Fatalf("history = %d runs, want 15", len(runs))
	}
	if _, ok := m.Run(ids[0]); ok {
		t.Fatal("oldest run should be evicted")
	}
	if runs[0].ID != ids[15] {
		t.Fatalf("newest first: got %s want %s", runs[0].ID, ids[15])
	}
	for i := 1; i < len(runs); i++ {
		if !runs[i-1].CreatedAt.After(runs[i].CreatedAt) {
			t.Fatalf("history not newest-first at %d", i)
		}
		if runs[i-1].ID <= runs[i].ID {
			t.Fatalf("run ids should sort with time at %d", i)
		}
	}
}

func TestSupersededRunKeepsReceivingUpdates(t *testing.T) {
	m := newTestManager(nil)
	old := m.StartRun(logo("first"))
	current := m.StartRun(logo("second"))

	job := domain.Job{TemplateID: "bus-wrap", Status: domain.JobStatusSuccess, ImageURL: "data:image/png;base64,AA"}
	if err := m.UpdateJob(old.ID, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	gotOld, _ := m.Run(old.ID)
	if gotOld.Results["bus-wrap"].Status != domain.JobStatusSuccess {
		t.Fatal("old run should hold its own result")
	}
	gotCurrent, _ := m.Run(current.ID)
	if gotCurrent.Results["bus-wrap"].Status != domain.JobStatusLoading {
		t.Fatal("result leaked into the new run")
	}
}

func TestUpdateJobRejectsUnknown(t *testing.T) {
	m := newTestManager(nil)
	run := m.StartRun(logo("acme"))
	if err := m.UpdateJob("missing", domain.Job{TemplateID: "bus-wrap"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := m.UpdateJob(run.ID, domain.Job{TemplateID: "nope"}); !errors.Is(err, domain.ErrUnknownTemplate) {
		t.Fatalf("err = %v, want ErrUnknownTemplate", err)
	}
}

func TestSnapshotIsNotClobberedByHistoryHops(t *testing.T) {
	m := newTestManager(nil)
	first := m.StartRun(logo("first"))
	second := m.StartRun(logo("second"))
	live := m.StartRun(logo("live"))

	if _, err := m.SnapshotLiveAndSwitchTo(first.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if _, err := m.SnapshotLiveAndSwitchTo(second.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	snap, ok := m.Snapshot()
	if !ok || snap.RunID != live.ID || string(snap.Logo.Data) != "live" {
		t.Fatalf("snapshot = %+v, want live run", snap)
	}
	if !m.ViewingHistory() {
		t.Fatal("should be viewing history")
	}

	// an in-flight job lands while history is displayed
	job := domain.Job{TemplateID: "car-wrap", Status: domain.JobStatusSuccess, ImageURL: "data:x"}
	if err := m.UpdateJob(live.ID, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	restored, ok := m.RestoreLive()
	if !ok || restored.ID != live.ID {
		t.Fatalf("restored %s, want %s", restored.ID, live.ID)
	}
	if restored.Results["car-wrap"].Status != domain.JobStatusSuccess {
		t.Fatal("update made while viewing history was lost")
	}
	if m.ViewingHistory() {
		t.Fatal("should be back on the live run")
	}
	if _, ok := m.Snapshot(); ok {
		t.Fatal("snapshot should be cleared after restore")
	}
}

func TestViewReportsDisplayedRun(t *testing.T) {
	m := newTestManager(nil)
	if v := m.View(); v.Run != nil || v.ViewingHistory {
		t.Fatalf("empty session view = %+v", v)
	}
	old := m.StartRun(logo("old"))
	live := m.StartRun(logo("live"))
	if v := m.View(); v.Run == nil || v.Run.ID != live.ID || !v.Live {
		t.Fatalf("view = %+v, want live", v)
	}
	if _, err := m.SnapshotLiveAndSwitchTo(old.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if v := m.View(); v.Run == nil || v.Run.ID != old.ID || v.Live || !v.ViewingHistory {
		t.Fatalf("view = %+v, want history", v)
	}
}

func TestPersistShrinksOnFailure(t *testing.T) {
	store := newMemoryStore()
	store.failOver = 5
	m := newTestManager(store)
	for i := 0; i < 8; i++ {
		m.StartRun(logo("acme"))
	}
	if got := len(store.stored("history:ana@example.com")); got != 5 {
		t.Fatalf("persisted %d runs, want fallback of 5", got)
	}
	if len(m.Runs()) != 8 {
		t.Fatal("in-memory history must not shrink")
	}
}

func TestPersistRetriesOnceBelowFallbackCap(t *testing.T) {
	store := newMemoryStore()
	store.failNext = 1
	m := newTestManager(store)
	run := m.StartRun(logo("acme"))

	if got := store.putSizes(); len(got) != 2 || got[0] != 1 || got[1] != 1 {
		t.Fatalf("put sizes = %v, want [1 1]", got)
	}
	stored := store.stored("history:ana@example.com")
	if len(stored) != 1 || stored[0].ID != run.ID {
		t.Fatalf("stored = %+v", stored)
	}
}

// gatedStore parks the first Put it sees after arm until release is closed.
type gatedStore struct {
	*memoryStore
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

func (s *gatedStore) Put(ctx context.Context, key string, runs []domain.GenerationRun, maxLen int) error {
	s.mu.Lock()
	park := s.armed
	s.armed = false
	s.mu.Unlock()
	if park {
		close(s.entered)
		<-s.release
	}
	return s.memoryStore.Put(ctx, key, runs, maxLen)
}

func TestPersistCoalescesWritesDuringSlowPut(t *testing.T) {
	store := &gatedStore{memoryStore: newMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(store)
	run := m.StartRun(logo("acme"))

	store.arm()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.UpdateJob(run.ID, domain.Job{TemplateID: "bus-wrap", Status: domain.JobStatusSuccess, ImageURL: "data:bus"})
	}()
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first write never reached the store")
	}

	// a write is in flight, so these return without touching the store
	for _, id := range []string{"car-wrap", "metro-ad"} {
		if err := m.UpdateJob(run.ID, domain.Job{TemplateID: id, Status: domain.JobStatusSuccess, ImageURL: "data:" + id}); err != nil {
			t.Fatalf("UpdateJob(%s): %v", id, err)
		}
	}
	close(store.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not finish")
	}

	if got := len(store.putSizes()); got != 3 {
		t.Fatalf("puts = %d, want 3 (start, in-flight, one coalesced)", got)
	}
	stored := store.stored("history:ana@example.com")
	if len(stored) != 1 {
		t.Fatalf("stored = %+v", stored)
	}
	for _, tpl := range testTemplates {
		if job := stored[0].Results[tpl.ID]; job.Status != domain.JobStatusSuccess {
			t.Fatalf("stored %s = %+v, want success", tpl.ID, job)
		}
	}
}

func TestPersistCapsList(t *testing.T) {
	store := newMemoryStore()
	m := newTestManager(store)
	for i := 0; i < 12; i++ {
		m.StartRun(logo("acme"))
	}
	stored := store.stored("history:ana@example.com")
	if len(stored) != 10 {
		t.Fatalf("persisted %d runs, want 10", len(stored))
	}
	if stored[0].ID != m.Runs()[0].ID {
		t.Fatal("persisted list should start with the newest run")
	}
}

func TestPersistGivesUpQuietly(t *testing.T) {
	store := newMemoryStore()
	store.failOver = 0
	m := newTestManager(store)
	run := m.StartRun(logo("acme"))
	if err := m.UpdateJob(run.ID, domain.Job{TemplateID: "bus-wrap", Status: domain.JobStatusSuccess, ImageURL: "data:x"}); err != nil {
		t.Fatalf("UpdateJob should not surface persistence errors: %v", err)
	}
}

func TestLoadRestoresAndNormalizes(t *testing.T) {
	store := newMemoryStore()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.data["history:ana@example.com"] = []domain.GenerationRun{
		{ID: "a", CreatedAt: older, Results: map[string]domain.Job{"bus-wrap": {Status: domain.JobStatusSuccess, ImageURL: "data:x"}, "gone": {}}},
		{ID: "b", CreatedAt: older.Add(time.Hour)},
		{ID: ""},
	}
	m := newTestManager(store)
	m.Load(context.Background())

	runs := m.Runs()
	if len(runs) != 2 || runs[0].ID != "b" {
		t.Fatalf("runs = %+v", runs)
	}
	a := runs[1]
	if len(a.Results) != len(testTemplates) {
		t.Fatalf("results = %v", a.Results)
	}
	if a.Results["car-wrap"].Status != domain.JobStatusIdle || a.Results["bus-wrap"].Status != domain.JobStatusSuccess {
		t.Fatalf("normalized results = %+v", a.Results)
	}
	if m.ViewingHistory() {
		t.Fatal("loading history must not switch the view")
	}
}

func TestLoadDiscardsCorruptedHistory(t *testing.T) {
	store := newMemoryStore()
	store.getErr = domain.ErrCorruptedHistory
	m := newTestManager(store)
	m.Load(context.Background())
	if len(m.Runs()) != 0 {
		t.Fatal("corrupted history should be treated as empty")
	}
	m.StartRun(logo("acme"))
	if len(m.Runs()) != 1 {
		t.Fatal("manager should keep working after a corrupted read")
	}
}

func TestWatchReceivesUpdates(t *testing.T) {
	m := newTestManager(nil)
	events, stop := m.Watch()
	defer stop()

	run := m.StartRun(logo("acme"))
	_ = m.UpdateJob(run.ID, domain.Job{TemplateID: "metro-ad", Status: domain.JobStatusSuccess, ImageURL: "data:x"})

	first := <-events
	if first.Kind != EventRunStarted || first.RunID != run.ID {
		t.Fatalf("first event = %+v", first)
	}
	second := <-events
	if second.Kind != EventJobUpdated || second.Job == nil || second.Job.TemplateID != "metro-ad" || !second.Live {
		t.Fatalf("second event = %+v", second)
	}

	stop()
	if _, ok := <-events; ok {
		t.Fatal("channel should be closed after stop")
	}
}
