package task

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"kiln/internal/pack"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShell(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer
	s := &Shell{
		TaskName: "greet",
		Dir:      dir,
		Command:  []string{"sh", "-c", `printf "$GREETING" > out.txt; echo done`},
		Env:      map[string]string{"GREETING": "hello"},
		Out:      []pack.Root{{Name: "out", Path: filepath.Join(dir, "out.txt")}},
		Stdout:   &stdout,
	}

	require.NoError(t, s.Execute(context.Background()))
	content, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
	assert.Equal(t, "done\n", stdout.String())

	t.Run("identity", func(t *testing.T) {
		id, ok := s.Identity()
		require.True(t, ok)
		assert.Equal(t, dir, id.Root)

		enabled, err := s.CacheEnabled()
		require.NoError(t, err)
		assert.True(t, enabled)
		assert.True(t, s.CacheAllowed())

		other := *s
		other.Env = map[string]string{"GREETING": "bye"}
		assert.NotEqual(t, s.Action(), other.Action())
	})

	t.Run("failure", func(t *testing.T) {
		failing := &Shell{TaskName: "fail", Dir: dir, Command: []string{"sh", "-c", "exit 3"}}
		assert.Error(t, failing.Execute(context.Background()))

		_, ok := (&Shell{}).Identity()
		assert.False(t, ok)
		assert.Error(t, (&Shell{}).Execute(context.Background()))
	})

	t.Run("no outputs disables caching", func(t *testing.T) {
		enabled, err := (&Shell{Command: []string{"true"}}).CacheEnabled()
		require.NoError(t, err)
		assert.False(t, enabled)
	})
}
