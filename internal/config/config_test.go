package config

import (
	"os"
	"path/filepath"
	"testing"

	"kiln/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		root := t.TempDir()
		cfg, err := Resolve(root)
		require.NoError(t, err)

		assert.Equal(t, BackendBadger, cfg.Cache.Backend)
		assert.True(t, cfg.Cache.Enabled)
		assert.Equal(t, filepath.Join(root, StateDir, "cache"), cfg.Cache.Path)
		assert.Equal(t, filepath.Join(root, StateDir, "state"), cfg.State.Path)
	})

	t.Run("environment file overrides defaults", func(t *testing.T) {
		root := t.TempDir()
		t.Setenv("KILN_ENV", "ci")
		require.NoError(t, os.MkdirAll(filepath.Join(root, StateDir), 0755))
		data := `{"cache": {"backend": "dir", "path": "/tmp/shared-cache", "enabled": true}, "log_level": "debug"}`
		require.NoError(t, os.WriteFile(filepath.Join(root, StateDir, "config.ci.json"), []byte(data), 0644))

		cfg, err := Resolve(root)
		require.NoError(t, err)
		assert.Equal(t, BackendDir, cfg.Cache.Backend)
		assert.Equal(t, "/tmp/shared-cache", cfg.Cache.Path)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 2, cfg.Compression.Level)
	})

	t.Run("KILN_ variables override the file", func(t *testing.T) {
		root := t.TempDir()
		t.Setenv("KILN_LOG_LEVEL", "info")
		t.Setenv("KILN_CACHE_BACKEND", "sqlite")
		t.Setenv("KILN_CACHE_ENABLED", "false")
		t.Setenv("KILN_HASHING_MEMO_ENTRIES", "10")

		cfg, err := Resolve(root)
		require.NoError(t, err)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
		assert.False(t, cfg.Cache.Enabled)
		assert.Equal(t, 10, cfg.Hashing.MemoEntries)
	})

	t.Run("invalid override", func(t *testing.T) {
		t.Setenv("KILN_COMPRESSION_LEVEL", "9")
		_, err := Resolve(t.TempDir())
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("invalid backend", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, StateDir), 0755))
		data := `{"cache": {"backend": "s3"}}`
		require.NoError(t, os.WriteFile(filepath.Join(root, StateDir, "config.development.json"), []byte(data), 0644))

		_, err := Resolve(root)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestSave(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Cache.MemoryEntries = 8
	require.NoError(t, cfg.Save(Path(root)))

	loaded, err := Load(Path(root))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, StateDir), 0755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := FindRoot(nested)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
