package remote

import (
	"context"
	"sync"

	"github.com/stacklok/statesync/pkg/statetree"
)

// MemoryStore is a Store kept in process memory. It is used for tests and for
// running the engine without a remote backend.
type MemoryStore struct {
	mu      sync.Mutex
	current statetree.Envelope
	updates []statetree.Envelope
}

// NewMemoryStore creates a store holding initial.
func NewMemoryStore(initial statetree.Envelope) *MemoryStore {
	if initial == nil {
		initial = statetree.Envelope{}
	}
	return &MemoryStore{current: Apply(statetree.Envelope{}, initial)}
}

// Fetch implements Store.
func (m *MemoryStore) Fetch(_ context.Context) (statetree.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Apply(statetree.Envelope{}, m.current), nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, diff statetree.Envelope) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Apply(m.current, diff)
	m.updates = append(m.updates, Apply(statetree.Envelope{}, diff))
	return map[string]any{"updated": len(diff)}, nil
}

// Updates returns every diff received so far, oldest first.
func (m *MemoryStore) Updates() []statetree.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]statetree.Envelope, len(m.updates))
	copy(out, m.updates)
	return out
}
