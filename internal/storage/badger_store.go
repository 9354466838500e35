// internal/storage/badger_store.go
package storage

import (
	"context"
	"fmt"

	"kiln/internal/errors"

	"github.com/dgraph-io/badger/v4"
)

const resultPrefix = "result:"

// BadgerStore keeps result entries in a badger database.
type BadgerStore struct {
	db     *badger.DB
	prefix string
	owned  bool
}

// NewBadgerStore stores results in db, which the caller keeps ownership of.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: resultPrefix,
	}
}

// OpenBadgerStore opens a dedicated database at path. Close releases it.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, errors.StoreIO("opening result store", err)
	}
	s := NewBadgerStore(db)
	s.owned = true
	return s, nil
}

func (s *BadgerStore) makeKey(key Key) []byte {
	return append([]byte(s.prefix), key[:]...)
}

func (s *BadgerStore) Has(ctx context.Context, key Key) (bool, error) {
	if err := checkContext(ctx, "has", key); err != nil {
		return false, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.makeKey(key))
		return err
	})

	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.StoreIO(fmt.Sprintf("checking %s", key), err)
	}
	return true, nil
}

func (s *BadgerStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, false, err
	}

	var entry []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(key))
		if err != nil {
			return err
		}

		entry, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.StoreIO(fmt.Sprintf("reading %s", key), err)
	}
	return entry, true, nil
}

func (s *BadgerStore) Put(ctx context.Context, key Key, entry []byte) error {
	if err := checkContext(ctx, "put", key); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.makeKey(key), entry)
	})
	if err != nil {
		return errors.StoreIO(fmt.Sprintf("writing %s", key), err)
	}
	return nil
}

func (s *BadgerStore) Describe() string {
	if opts := s.db.Opts(); !opts.InMemory {
		return "badger:" + opts.Dir
	}
	return "badger:memory"
}

func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
