package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore serves recently used entries from memory and reads through
// to the wrapped store on a miss. Entries are copied in and out, so callers
// may modify the slices they pass and receive.
type CachedStore struct {
	next    Store
	entries *lru.Cache[Key, []byte]
	size    int
}

func NewCachedStore(next Store, size int) (*CachedStore, error) {
	entries, err := lru.New[Key, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	return &CachedStore{next: next, entries: entries, size: size}, nil
}

func (s *CachedStore) Has(ctx context.Context, key Key) (bool, error) {
	if s.entries.Contains(key) {
		return true, nil
	}
	return s.next.Has(ctx, key)
}

func (s *CachedStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if entry, ok := s.entries.Get(key); ok {
		return clone(entry), true, nil
	}
	entry, ok, err := s.next.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	s.entries.Add(key, clone(entry))
	return entry, true, nil
}

// Put writes through; the memory copy is only kept once the wrapped store
// accepted the entry.
func (s *CachedStore) Put(ctx context.Context, key Key, entry []byte) error {
	if err := s.next.Put(ctx, key, entry); err != nil {
		s.entries.Remove(key)
		return err
	}
	s.entries.Add(key, clone(entry))
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func (s *CachedStore) Describe() string {
	return fmt.Sprintf("lru(%d) -> %s", s.size, s.next.Describe())
}

func (s *CachedStore) Close() error {
	s.entries.Purge()
	return s.next.Close()
}
