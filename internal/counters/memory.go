package counters

import (
	"context"
	"sync"
)

// MemoryStore is a single-process Store used in tests and single-node
// deployments.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Counter)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[key], nil
}

func (s *MemoryStore) CompareAndSet(ctx context.Context, key string, expected Counter, nextCents int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.items[key]
	if current.Version != expected.Version {
		return false, nil
	}
	s.items[key] = Counter{ValueCents: nextCents, Version: current.Version + 1}
	return true, nil
}
