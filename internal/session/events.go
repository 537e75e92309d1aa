package session

import "adstudio/internal/domain"

type EventKind string

const (
	EventRunStarted    EventKind = "run_started"
	EventJobUpdated    EventKind = "job_updated"
	EventViewChanged   EventKind = "view_changed"
	EventHistoryLoaded EventKind = "history_loaded"
)

// Event notifies watchers that the session changed.
type Event struct {
	Kind  EventKind   `json:"kind"`
	RunID string      `json:"run_id,omitempty"`
	Job   *domain.Job `json:"job,omitempty"`
	Live  bool        `json:"live"`
}

const watchBuffer = 64

// Watch subscribes to session events. Slow watchers miss events rather than
// block writers. The returned func unsubscribes and closes the channel.
func (m *Manager) Watch() (<-chan Event, func()) {
	ch := make(chan Event, watchBuffer)
	m.watchMu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	m.watchMu.Unlock()

	var once bool
	return ch, func() {
		m.watchMu.Lock()
		defer m.watchMu.Unlock()
		if once {
			return
		}
		once = true
		delete(m.watchers, id)
		close(ch)
	}
}

func (m *Manager) publish(ev Event) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, ch := range m.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Watchers returns how many subscribers are attached.
func (m *Manager) Watchers() int {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	return len(m.watchers)
}
