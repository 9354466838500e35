package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kiln/internal/errors"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const stageDir = ".put-stage"

// DirStore keeps one file per entry under root, fanned out by the first two
// hex digits of the key. Puts are staged and renamed into place so readers
// never see a partial entry.
type DirStore struct {
	root string
	fs   afero.Fs
	mu   sync.RWMutex
}

func NewDirStore(fs afero.Fs, root string) (*DirStore, error) {
	if err := fs.MkdirAll(filepath.Join(root, stageDir), 0755); err != nil {
		return nil, errors.StoreIO("creating result store directory", err)
	}
	return &DirStore{
		root: root,
		fs:   afero.NewBasePathFs(fs, root),
	}, nil
}

func (s *DirStore) entryPath(key Key) string {
	hash := key.String()
	return filepath.Join(string(filepath.Separator), hash[:2], hash)
}

func (s *DirStore) Has(ctx context.Context, key Key) (bool, error) {
	if err := checkContext(ctx, "has", key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := afero.Exists(s.fs, s.entryPath(key))
	if err != nil {
		return false, errors.StoreIO(fmt.Sprintf("checking %s", key), err)
	}
	return exists, nil
}

func (s *DirStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := afero.ReadFile(s.fs, s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.StoreIO(fmt.Sprintf("reading %s", key), err)
	}
	return entry, true, nil
}

func (s *DirStore) Put(ctx context.Context, key Key, entry []byte) error {
	if err := checkContext(ctx, "put", key); err != nil {
		return err
	}

	staged := filepath.Join(string(filepath.Separator), stageDir, uuid.NewString())
	if err := writeFileAtomic(s.fs, staged, entry); err != nil {
		return errors.StoreIO(fmt.Sprintf("staging %s", key), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	final := s.entryPath(key)
	if err := s.fs.MkdirAll(filepath.Dir(final), 0755); err != nil {
		_ = s.fs.Remove(staged)
		return errors.StoreIO(fmt.Sprintf("writing %s", key), err)
	}
	if err := s.fs.Rename(staged, final); err != nil {
		_ = s.fs.Remove(staged)
		return errors.StoreIO(fmt.Sprintf("writing %s", key), err)
	}
	return nil
}

// writeFileAtomic writes and syncs a file that nothing else refers to yet.
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fs.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fs.Remove(path)
		return err
	}
	return f.Close()
}

func (s *DirStore) Describe() string {
	return "dir:" + s.root
}

func (s *DirStore) Close() error { return nil }
