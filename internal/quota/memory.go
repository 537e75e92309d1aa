package quota

import (
	"context"
	"sync"

	"adstudio/internal/domain"
)

// DefaultMaxRegenerations applies to identities without an explicit ceiling.
const DefaultMaxRegenerations = 3

// MemoryService keeps counters in process. It backs local development and tests.
type MemoryService struct {
	mu         sync.Mutex
	defaultMax int
	used       map[string]int
	max        map[string]int
}

func NewMemoryService(defaultMax int) *MemoryService {
	if defaultMax <= 0 {
		defaultMax = DefaultMaxRegenerations
	}
	return &MemoryService{defaultMax: defaultMax, used: map[string]int{}, max: map[string]int{}}
}

// SetLimit overrides the ceiling for one identity.
func (m *MemoryService) SetLimit(identity string, used, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity = normalizeIdentity(identity)
	m.used[identity] = used
	m.max[identity] = max
}

func (m *MemoryService) CanRegenerate(ctx context.Context, identity string) (domain.QuotaStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(normalizeIdentity(identity)), nil
}

func (m *MemoryService) ConsumeRegeneration(ctx context.Context, identity string) (domain.QuotaStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity = normalizeIdentity(identity)
	status := m.statusLocked(identity)
	if !status.CanProceed {
		return status, &domain.QuotaExceededError{Used: status.Used, Max: status.Max}
	}
	m.used[identity] = status.Used + 1
	return m.statusLocked(identity), nil
}

func (m *MemoryService) statusLocked(identity string) domain.QuotaStatus {
	max, ok := m.max[identity]
	if !ok {
		max = m.defaultMax
	}
	used := m.used[identity]
	return domain.QuotaStatus{CanProceed: used < max, Used: used, Max: max}
}

var _ domain.QuotaService = (*MemoryService)(nil)
