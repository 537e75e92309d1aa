package retryqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	if opts.Interval == 0 {
		// keep the background ticker out of the way; tests drive Process directly
		opts.Interval = time.Hour
	}
	q := New(opts)
	t.Cleanup(q.Close)
	return q
}

func TestEnqueueRespectsMaxSize(t *testing.T) {
	q := newTestQueue(t, Options{MaxSize: 50})
	q.SetHandler(func(ctx context.Context, item Item) {})

	accepted := 0
	for i := 0; i < 60; i++ {
		if q.Enqueue(Item{RunID: "run", TemplateID: fmt.Sprintf("tpl-%02d", i)}) {
			accepted++
		}
	}
	if accepted != 50 {
		t.Fatalf("accepted %d items, want 50", accepted)
	}
	if q.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", q.Len())
	}
	if q.Contains(Key("run", "tpl-55")) {
		t.Fatal("item beyond capacity should have been dropped")
	}
}

func TestEnqueueSameJobReplaces(t *testing.T) {
	q := newTestQueue(t, Options{})
	q.Enqueue(Item{RunID: "run", TemplateID: "bus-wrap", Attempts: 10})
	q.Enqueue(Item{RunID: "run", TemplateID: "bus-wrap", Attempts: 20})
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	if got := q.Items()[0].Attempts; got != 20 {
		t.Fatalf("Attempts = %d, want 20", got)
	}
}

func TestProcessHandsOffUpToConcurrency(t *testing.T) {
	q := newTestQueue(t, Options{Concurrency: 3})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	q.SetHandler(func(ctx context.Context, item Item) {
		mu.Lock()
		seen = append(seen, item.TemplateID)
		mu.Unlock()
		<-release
	})
	for i := 0; i < 5; i++ {
		q.Enqueue(Item{RunID: "run", TemplateID: fmt.Sprintf("tpl-%d", i)})
	}

	q.Process()
	// dispatch follows insertion order, so the oldest three left first
	pending := q.Items()
	if len(pending) != 2 || pending[0].TemplateID != "tpl-3" || pending[1].TemplateID != "tpl-4" {
		t.Fatalf("pending after first tick = %+v, want tpl-3 and tpl-4", pending)
	}
	if q.Len() != 2 {
		t.Fatalf("after first tick Len() = %d, want 2", q.Len())
	}

	// handlers still busy: the next tick must not exceed the concurrency cap
	q.Process()
	if q.Len() != 2 {
		t.Fatalf("after blocked tick Len() = %d, want 2", q.Len())
	}

	close(release)
	q.Wait()
	q.Process()
	q.Wait()
	if q.Len() != 0 {
		t.Fatalf("after draining Len() = %d, want 0", q.Len())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("handler saw %d items, want 5", len(seen))
	}
	handled := map[string]bool{}
	for _, id := range seen {
		handled[id] = true
	}
	for i := 0; i < 5; i++ {
		if id := fmt.Sprintf("tpl-%d", i); !handled[id] {
			t.Fatalf("%s never handled, saw %v", id, seen)
		}
	}
}

func TestIdleCountsRunningHandlers(t *testing.T) {
	q := newTestQueue(t, Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	q.SetHandler(func(ctx context.Context, item Item) {
		close(started)
		<-release
	})
	if !q.Idle() {
		t.Fatal("empty queue should be idle")
	}

	q.Enqueue(Item{RunID: "run", TemplateID: "bus-wrap"})
	if q.Idle() {
		t.Fatal("queue with a pending item is not idle")
	}
	q.Process()
	waitFor(t, started)
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	if q.Idle() {
		t.Fatal("queue with a running handler is not idle")
	}

	close(release)
	q.Wait()
	if !q.Idle() {
		t.Fatal("queue should be idle once the handler returned")
	}
}

func TestProcessEvictsStaleItems(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := newTestQueue(t, Options{MaxAge: 30 * time.Minute, Now: clock.Now})
	called := make(chan Item, 4)
	q.SetHandler(func(ctx context.Context, item Item) { called <- item })

	q.Enqueue(Item{RunID: "run", TemplateID: "old"})
	clock.Advance(31 * time.Minute)
	q.Enqueue(Item{RunID: "run", TemplateID: "fresh"})

	q.Process()
	q.Wait()
	close(called)

	var got []string
	for item := range called {
		got = append(got, item.TemplateID)
	}
	if len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("handled %v, want [fresh]", got)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func TestProcessorAutoStopsAndRestarts(t *testing.T) {
	q := newTestQueue(t, Options{Interval: 10 * time.Millisecond})
	done := make(chan struct{}, 2)
	q.SetHandler(func(ctx context.Context, item Item) { done <- struct{}{} })

	if q.Running() {
		t.Fatal("processor should be idle before the first enqueue")
	}
	q.Enqueue(Item{RunID: "run", TemplateID: "a"})
	if !q.Running() {
		t.Fatal("processor should start on enqueue")
	}
	waitFor(t, done)
	waitUntil(t, func() bool { return !q.Running() })

	q.Enqueue(Item{RunID: "run", TemplateID: "b"})
	if !q.Running() {
		t.Fatal("processor should restart on the next enqueue")
	}
	waitFor(t, done)
	waitUntil(t, func() bool { return !q.Running() })
}

func TestClosedQueueRejects(t *testing.T) {
	q := New(Options{Interval: time.Hour})
	q.Close()
	if q.Enqueue(Item{RunID: "run", TemplateID: "a"}) {
		t.Fatal("closed queue accepted an item")
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
