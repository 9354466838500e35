package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory. Useful for tests and for
// runs that only want in-process reuse.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key][]byte)}
}

func (s *MemoryStore) Has(ctx context.Context, key Key) (bool, error) {
	if err := checkContext(ctx, "has", key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *MemoryStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return clone(entry), true, nil
}

func (s *MemoryStore) Put(ctx context.Context, key Key, entry []byte) error {
	if err := checkContext(ctx, "put", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = clone(entry)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Describe() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }
