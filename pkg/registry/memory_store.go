package registry

import (
	"context"
	"sync"
)

// MemoryStore keeps the snapshot in memory. Used in tests and for
// ephemeral single-node setups where durability is not required.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
	ok   bool

	// FailSaves makes every Save return this error when non-nil; tests use
	// it to exercise the persistence-failure path.
	FailSaves error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves != nil {
		return s.FailSaves
	}
	s.snap = snap
	s.ok = true
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.ok, nil
}
