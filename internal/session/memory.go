package session

import (
	"sync"
	"sync/atomic"
)

// MemoryStore is an in-memory Store built on sync.Map.
//
// sync.Map gives per-key atomic LoadOrStore and LoadAndDelete without a
// store-wide mutex, so distinct tokens never block each other.
type MemoryStore struct {
	sessions sync.Map // token -> struct{}
	size     atomic.Int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// TryCreate implements Store.
func (m *MemoryStore) TryCreate(token string) bool {
	if _, loaded := m.sessions.LoadOrStore(token, struct{}{}); loaded {
		return false
	}
	m.size.Add(1)
	return true
}

// Exists implements Store.
func (m *MemoryStore) Exists(token string) bool {
	_, ok := m.sessions.Load(token)
	return ok
}

// TryDelete implements Store.
func (m *MemoryStore) TryDelete(token string) bool {
	if _, loaded := m.sessions.LoadAndDelete(token); !loaded {
		return false
	}
	m.size.Add(-1)
	return true
}

// Len returns the number of active sessions.
// The value is a snapshot and may be stale under concurrent mutation.
func (m *MemoryStore) Len() int {
	return int(m.size.Load())
}
