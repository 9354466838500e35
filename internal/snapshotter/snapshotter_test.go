package snapshotter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kiln/internal/errors"
	"kiln/internal/fileset"
	"kiln/internal/hashing"
	"kiln/internal/snapshot"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted replays a fixed sequence of visits.
type scripted func(v fileset.Visitor)

func (s scripted) Visit(v fileset.Visitor) error {
	s(v)
	return nil
}

func setup(t *testing.T) (afero.Fs, *hashing.Cache, *Snapshotter) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/ws/src", 0755))
	require.NoError(t, afero.WriteFile(fs, "/ws/src/a.txt", []byte("a"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/ws/src/b.txt", []byte("b"), 0644))

	hashes, err := hashing.NewCache(fs, 64, nil, nil)
	require.NoError(t, err)
	return fs, hashes, New(hashes, nil)
}

func stat(t *testing.T, fs afero.Fs, path string) fileset.Details {
	t.Helper()
	info, err := fs.Stat(path)
	require.NoError(t, err)
	return fileset.Details{Path: path, Info: info}
}

func TestCapture(t *testing.T) {
	fs, hashes, s := setup(t)

	t.Run("empty declaration yields the empty singleton", func(t *testing.T) {
		snap, err := s.Capture(fileset.None)
		require.NoError(t, err)
		assert.Same(t, snapshot.Empty, snap)
		_, changed := snapshot.HasChanges(snap, snapshot.Empty)
		assert.False(t, changed)
	})

	t.Run("tree in visit order", func(t *testing.T) {
		roots, err := fileset.NewRoots(fs, "/ws/src", "/ws/gone")
		require.NoError(t, err)

		snap, err := s.Capture(roots)
		require.NoError(t, err)
		assert.Equal(t, []string{"/ws/src", "/ws/src/a.txt", "/ws/src/b.txt", "/ws/gone"}, snap.Paths())

		dir, _ := snap.Get("/ws/src")
		assert.True(t, dir.IsDir())
		gone, _ := snap.Get("/ws/gone")
		assert.True(t, gone.IsMissing())
		a, _ := snap.Get("/ws/src/a.txt")
		assert.Equal(t, hashing.HashBytes([]byte("a")), a.Digest())
		assert.NotZero(t, a.ModTime())
	})

	t.Run("first occurrence wins and present beats missing", func(t *testing.T) {
		before := hashes.Stats()
		a := stat(t, fs, "/ws/src/a.txt")
		set := scripted(func(v fileset.Visitor) {
			v.VisitMissing("/ws/src/a.txt")
			v.VisitFile(a)
			v.VisitFile(a)
		})

		snap, err := s.Capture(set)
		require.NoError(t, err)
		require.Equal(t, 1, snap.Len())
		e, _ := snap.Get("/ws/src/a.txt")
		assert.True(t, e.IsFile())

		after := hashes.Stats()
		assert.Equal(t, int64(1), (after.Hits+after.Hashed)-(before.Hits+before.Hashed))
	})

	t.Run("hash failure is a snapshot fault and releases the lease", func(t *testing.T) {
		a := stat(t, fs, "/ws/src/a.txt")
		set := scripted(func(v fileset.Visitor) {
			v.VisitFile(fileset.Details{Path: "/ws/src/vanished.txt", Info: a.Info})
		})

		_, err := s.Capture(set)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeSnapshotFault))

		done := make(chan struct{})
		go func() {
			hashes.Acquire(true).Release()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("lease was not released after fault")
		}
	})

	t.Run("content change is detected", func(t *testing.T) {
		roots, err := fileset.NewRoots(fs, "/ws/src/b.txt")
		require.NoError(t, err)
		first, err := s.Capture(roots)
		require.NoError(t, err)

		require.NoError(t, afero.WriteFile(fs, "/ws/src/b.txt", []byte("bb"), os.ModePerm))
		second, err := s.Capture(roots)
		require.NoError(t, err)

		change, changed := snapshot.HasChanges(second, first)
		require.True(t, changed)
		assert.Equal(t, snapshot.Change{Type: snapshot.Changed, Path: "/ws/src/b.txt"}, change)
	})
}

func TestCaptureSymlinks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "real"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "real", "x.txt"), []byte("x"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(src, "real"), filepath.Join(src, "link")))
	require.NoError(t, os.Symlink(filepath.Join(src, "gone"), filepath.Join(src, "dangling")))

	fs := afero.NewOsFs()
	hashes, err := hashing.NewCache(fs, 64, nil, nil)
	require.NoError(t, err)
	s := New(hashes, nil)

	roots, err := fileset.NewRoots(fs, src)
	require.NoError(t, err)
	snap, err := s.Capture(roots)
	require.NoError(t, err)

	link, ok := snap.Get(filepath.Join(src, "link"))
	require.True(t, ok)
	assert.True(t, link.IsDir())
	assert.Nil(t, link.Digest())

	through, ok := snap.Get(filepath.Join(src, "link", "x.txt"))
	require.True(t, ok)
	assert.Equal(t, hashing.HashBytes([]byte("x")), through.Digest())

	dangling, ok := snap.Get(filepath.Join(src, "dangling"))
	require.True(t, ok)
	assert.True(t, dangling.IsMissing())
}
