// Package storage provides the two concrete core.State backends a devnode
// actually runs on: an in-memory map (tests, the predicate code cache) and
// an on-disk goleveldb store (persisted chain state and predicate code
// cache; block history is not stored).
package storage

import (
	"sync"

	"intent-chain/core"
)

// MemoryStore is a concurrency-safe, map-backed core.State. It is the
// devnode's code cache and the default backend in tests; core.InMemoryStateStore
// already does the map bookkeeping, MemoryStore just adds the mutex a
// shared cache needs under concurrent predicate precompilation.
type MemoryStore struct {
	mu    sync.RWMutex
	inner *core.InMemoryStateStore
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{inner: core.NewInMemoryStateStore()}
}

func (m *MemoryStore) Get(addr core.Address) (*core.ExpandedAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inner.Get(addr)
}

func (m *MemoryStore) Apply(diff *core.StateDiff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inner.Apply(diff)
}
