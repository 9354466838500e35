package execution

import (
	"context"
	"fmt"
	"testing"

	"kiln/internal/fileset"
	"kiln/internal/hashing"
	"kiln/internal/pack"
	"kiln/internal/snapshotter"
	"kiln/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*badger.DB, func()) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)

	return db, func() { db.Close() }
}

// fakeWork copies its input file to its output directory.
type fakeWork struct {
	t  *testing.T
	fs afero.Fs

	name       string
	action     string
	allowed    bool
	enabled    bool
	enabledErr error
	fail       error
	extra      []pack.Root

	runs int
}

func newFakeWork(t *testing.T, fs afero.Fs) *fakeWork {
	require.NoError(t, fs.MkdirAll("/ws/src", 0755))
	require.NoError(t, afero.WriteFile(fs, "/ws/src/input.txt", []byte("v1"), 0644))
	return &fakeWork{t: t, fs: fs, name: "copy", action: "cp", allowed: true, enabled: true}
}

func (w *fakeWork) Name() string                { return w.name }
func (w *fakeWork) Action() string              { return w.action }
func (w *fakeWork) CacheAllowed() bool          { return w.allowed }
func (w *fakeWork) CacheEnabled() (bool, error) { return w.enabled, w.enabledErr }

func (w *fakeWork) Inputs() fileset.FileSet {
	roots, err := fileset.NewRoots(w.fs, "/ws/src")
	require.NoError(w.t, err)
	return roots
}

func (w *fakeWork) Outputs() []pack.Root {
	return append([]pack.Root{{Name: "out", Path: "/ws/out"}}, w.extra...)
}

func (w *fakeWork) Execute(ctx context.Context) error {
	w.runs++
	if w.fail != nil {
		return w.fail
	}
	content, err := afero.ReadFile(w.fs, "/ws/src/input.txt")
	if err != nil {
		return err
	}
	if err := w.fs.MkdirAll("/ws/out", 0755); err != nil {
		return err
	}
	return afero.WriteFile(w.fs, "/ws/out/result.txt", append([]byte("built "), content...), 0644)
}

// contentKeys keys work by the content of its input file.
type contentKeys struct {
	fs    afero.Fs
	err   error
	calls int
}

func (k *contentKeys) CacheKey(ctx context.Context, work Work) (storage.Key, error) {
	k.calls++
	if k.err != nil {
		return storage.Key{}, k.err
	}
	content, err := afero.ReadFile(k.fs, "/ws/src/input.txt")
	if err != nil {
		return storage.Key{}, err
	}
	var key storage.Key
	copy(key[:], hashing.HashBytes(content))
	return key, nil
}

// faultyStore fails selected operations of an in-memory store.
type faultyStore struct {
	*storage.MemoryStore
	getErr error
	putErr error
}

func (s *faultyStore) Get(ctx context.Context, key storage.Key) ([]byte, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Put(ctx context.Context, key storage.Key, entry []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryStore.Put(ctx, key, entry)
}

func newPacker(t *testing.T, fs afero.Fs) *pack.Packer {
	p, err := pack.New(fs, pack.DefaultCompressionOptions())
	require.NoError(t, err)
	return p
}

func newSnapshotter(t *testing.T, fs afero.Fs) *snapshotter.Snapshotter {
	hashes, err := hashing.NewCache(fs, 128, nil, nil)
	require.NoError(t, err)
	return snapshotter.New(hashes, nil)
}

func readOutput(t *testing.T, fs afero.Fs) string {
	t.Helper()
	content, err := afero.ReadFile(fs, "/ws/out/result.txt")
	require.NoError(t, err)
	return string(content)
}

var errBoom = fmt.Errorf("boom")
