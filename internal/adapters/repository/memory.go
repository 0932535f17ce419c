package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/halom/internal/domain/model"
)

// MemoryStore keeps all state in process memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	cache       map[string]model.Observation
	reputations map[string]int
	history     []model.Accepted // oldest first
	historySize int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := newSettings(opts)
	return &MemoryStore{
		cache:       make(map[string]model.Observation),
		reputations: make(map[string]int),
		historySize: s.historySize,
	}
}

// GetObservation implements CacheStore.
func (m *MemoryStore) GetObservation(_ context.Context, source string) (model.Observation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.cache[source]
	return o, ok, nil
}

// SetObservation implements CacheStore.
func (m *MemoryStore) SetObservation(_ context.Context, o model.Observation) error {
	if o.Source == "" {
		return fmt.Errorf("%w: observation without source", ErrInvalidRecord)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[o.Source] = o
	return nil
}

// EvictObservation implements CacheStore.
func (m *MemoryStore) EvictObservation(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, source)
	return nil
}

// GetReputation implements ReputationStore.
func (m *MemoryStore) GetReputation(_ context.Context, nodeID string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.reputations[nodeID]
	return s, ok, nil
}

// SetReputation implements ReputationStore.
func (m *MemoryStore) SetReputation(_ context.Context, nodeID string, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reputations[nodeID] = score
	return nil
}

// ListReputations implements ReputationStore.
func (m *MemoryStore) ListReputations(_ context.Context) ([]model.NodeReputation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.NodeReputation, 0, len(m.reputations))
	for id, s := range m.reputations {
		out = append(out, model.NodeReputation{NodeID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// AppendAccepted implements HistoryStore.
func (m *MemoryStore) AppendAccepted(_ context.Context, a model.Accepted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, a)
	if over := len(m.history) - m.historySize; over > 0 {
		m.history = append([]model.Accepted(nil), m.history[over:]...)
	}
	return nil
}

// LatestAccepted implements HistoryStore.
func (m *MemoryStore) LatestAccepted(_ context.Context) (model.Accepted, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return model.Accepted{}, false, nil
	}
	return m.history[len(m.history)-1], true, nil
}

// RecentAccepted implements HistoryStore.
func (m *MemoryStore) RecentAccepted(_ context.Context, n int) ([]model.Accepted, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n = min(n, len(m.history))
	out := make([]model.Accepted, 0, n)
	for i := len(m.history) - 1; i >= len(m.history)-n; i-- {
		out = append(out, m.history[i])
	}
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
