package store

import (
	"context"
	"sync"

	"github.com/epochbft/epochbft/pkg/consensus"
)

// MemoryStore is a process-local Store, used by tests and single-process
// simulations in place of PebbleStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[consensus.Digest][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[consensus.Digest][]byte)}
}

func (m *MemoryStore) Read(_ context.Context, key consensus.Digest) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MemoryStore) Write(_ context.Context, key consensus.Digest, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(value))
	copy(out, value)
	m.data[key] = out
	return nil
}

var _ consensus.Store = (*MemoryStore)(nil)
