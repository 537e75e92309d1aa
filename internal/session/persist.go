package session

import (
	"context"

	"adstudio/internal/domain"
)

// persist writes the capped history. Only one writer runs at a time; callers
// arriving while a write is in flight mark the history dirty and return, and
// the writer loops once more with the newest snapshot. A failed write is
// retried once with the list shrunk to the fallback cap, after that the error
// is only logged.
func (m *Manager) persist() {
	if m.opts.Store == nil {
		return
	}

	m.persistMu.Lock()
	m.dirty = true
	if m.writing {
		m.persistMu.Unlock()
		return
	}
	m.writing = true
	for m.dirty {
		m.dirty = false
		m.persistMu.Unlock()
		m.write(m.persistSnapshot())
		m.persistMu.Lock()
	}
	m.writing = false
	m.persistMu.Unlock()
}

func (m *Manager) persistSnapshot() []domain.GenerationRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := min(len(m.runs), m.opts.PersistCap)
	runs := make([]domain.GenerationRun, limit)
	for i := 0; i < limit; i++ {
		runs[i] = m.runs[i].Clone()
	}
	return runs
}

func (m *Manager) write(runs []domain.GenerationRun) {
	err := m.put(runs, m.opts.PersistCap)
	if err != nil {
		m.logger.Warn().Err(err).Int("runs", len(runs)).Msg("session: persist failed, shrinking history")
		fallback := runs[:min(len(runs), m.opts.PersistFallbackCap)]
		err = m.put(fallback, m.opts.PersistFallbackCap)
	}
	if err != nil {
		m.logger.Error().Err(&domain.PersistenceError{Op: "put", Err: err}).Msg("session: giving up on persisting history")
	}
}

func (m *Manager) put(runs []domain.GenerationRun, maxLen int) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return m.opts.Store.Put(ctx, m.opts.Key, runs, maxLen)
}
