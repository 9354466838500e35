package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0644))

	w, err := New([]string{src}, 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(paths []string) { batches <- paths })
	}()

	// ignored directories and unrelated files never trigger
	require.NoError(t, os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outside.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("aa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte("b"), 0644))

	select {
	case paths := <-batches:
		assert.Contains(t, paths, filepath.Join(src, "a.txt"))
		for _, p := range paths {
			assert.NotContains(t, p, ".git")
			assert.NotEqual(t, filepath.Join(dir, "outside.txt"), p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchMissingPath(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{filepath.Join(dir, "not", "yet")}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.debounce)
	assert.NoError(t, w.Close())
}

func TestWatchRootInsideIgnoredName(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "node_modules", "pkg")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "lib", "node_modules"), 0755))

	w, err := New([]string{src}, 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.False(t, w.shouldIgnore(src))
	assert.False(t, w.shouldIgnore(filepath.Join(src, "lib", "a.js")))
	assert.True(t, w.shouldIgnore(filepath.Join(src, "lib", "node_modules", "b.js")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []string, 4)
	go func() {
		_ = w.Run(ctx, func(paths []string) { batches <- paths })
	}()

	target := filepath.Join(src, "lib", "a.js")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	select {
	case paths := <-batches:
		assert.Contains(t, paths, target)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered for a root below an ignored name")
	}
}

func TestWatchMissingPathCreated(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "later")

	w, err := New([]string{target}, 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []string, 4)
	go func() {
		_ = w.Run(ctx, func(paths []string) { batches <- paths })
	}()

	require.NoError(t, os.Mkdir(target, 0755))

	select {
	case paths := <-batches:
		assert.Contains(t, paths, target)
	case <-time.After(5 * time.Second):
		t.Fatal("creating the watched path was not reported")
	}
}
