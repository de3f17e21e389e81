package archive

import (
	"context"
	"sync"

	"crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/session"
)

const defaultMaxEntries = 1000

// MemoryStore keeps the latest summary per call in process, evicting the
// oldest call beyond maxEntries.
type MemoryStore struct {
	mu         sync.RWMutex
	summaries  map[string]*session.Summary
	order      []string
	maxEntries int
}

// NewMemoryStore creates an in-memory archive
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryStore{
		summaries:  make(map[string]*session.Summary),
		maxEntries: maxEntries,
	}
}

// Save implements Store
func (m *MemoryStore) Save(_ context.Context, summary *session.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.summaries[summary.CallID]; exists {
		m.removeFromOrder(summary.CallID)
	}
	m.summaries[summary.CallID] = summary
	m.order = append(m.order, summary.CallID)

	for len(m.order) > m.maxEntries {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.summaries, oldest)
	}
	return nil
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, callID string) (*session.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.summaries[callID]
	if !ok {
		return nil, errors.NewNotFound("no archived summary", map[string]interface{}{"call_id": callID})
	}
	return s, nil
}

// List implements Store
func (m *MemoryStore) List(_ context.Context, limit int) ([]*session.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*session.Summary, 0, min(limit, len(m.order)))
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.summaries[m.order[i]])
	}
	return out, nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) removeFromOrder(callID string) {
	for i, id := range m.order {
		if id == callID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
