// Package storage holds the result store: a key to blob mapping addressed by
// cache keys, with badger, directory, sqlite and in-memory backends.
package storage

import (
	"context"
	"fmt"
	"os"

	"kiln/internal/config"
	"kiln/internal/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// Store is a content-addressable result store. A key is always associated
// with interchangeable entries, so Put on an existing key simply overwrites.
// I/O failures are reported as StoreIO errors.
type Store interface {
	Has(ctx context.Context, key Key) (bool, error)
	// Get returns the entry for key; ok is false when there is none.
	Get(ctx context.Context, key Key) (entry []byte, ok bool, err error)
	Put(ctx context.Context, key Key, entry []byte) error
	Describe() string
	Close() error
}

// OpenDB opens (creating if needed) a badger database at path.
func OpenDB(path string) (*badger.DB, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return db, nil
}

// Open builds the result store selected by cfg, with an LRU layer in front
// when cache.memory_entries is positive.
func Open(cfg *config.Config, fs afero.Fs) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Cache.Backend {
	case config.BackendBadger:
		s, err = OpenBadgerStore(cfg.Cache.Path)
	case config.BackendDir:
		s, err = NewDirStore(fs, cfg.Cache.Path)
	case config.BackendSQLite:
		s, err = OpenSQLiteStore(cfg.Cache.Path)
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown cache backend %q", cfg.Cache.Backend), nil)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Cache.MemoryEntries > 0 {
		cached, err := NewCachedStore(s, cfg.Cache.MemoryEntries)
		if err != nil {
			return nil, multierr.Append(err, s.Close())
		}
		s = cached
	}
	return s, nil
}

func checkContext(ctx context.Context, op string, key Key) error {
	if err := ctx.Err(); err != nil {
		return errors.StoreIO(fmt.Sprintf("%s %s", op, key), err)
	}
	return nil
}
