package hashing

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const memoPrefix = "hash:"

// BadgerMemo persists digests in badger so later processes skip rehashing
// unchanged files.
type BadgerMemo struct {
	db *badger.DB
}

func NewBadgerMemo(db *badger.DB) *BadgerMemo {
	return &BadgerMemo{db: db}
}

func (m *BadgerMemo) key(path string) []byte {
	return []byte(memoPrefix + path)
}

func (m *BadgerMemo) Load(path string) (MemoEntry, bool, error) {
	var entry MemoEntry

	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(m.key(path))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})

	if err == badger.ErrKeyNotFound {
		return MemoEntry{}, false, nil
	}
	if err != nil {
		return MemoEntry{}, false, fmt.Errorf("loading hash memo for %s: %w", path, err)
	}
	return entry, true, nil
}

func (m *BadgerMemo) Store(path string, entry MemoEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling hash memo: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(m.key(path), data)
	})
}

func (m *BadgerMemo) Forget(path string) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(m.key(path))
	})
	if err != nil {
		return fmt.Errorf("deleting hash memo for %s: %w", path, err)
	}
	return nil
}
