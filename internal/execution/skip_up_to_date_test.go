package execution

import (
	"context"
	"testing"

	"kiln/internal/history"
	"kiln/internal/pack"
	"kiln/internal/snapshot"
	"kiln/internal/storage"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upToDateFixture struct {
	fs      afero.Fs
	work    *fakeWork
	history *history.Store
	store   *storage.MemoryStore
	runner  *SkipUpToDate
}

func setupUpToDate(t *testing.T, cached bool) *upToDateFixture {
	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	fs := afero.NewMemMapFs()
	f := &upToDateFixture{
		fs:      fs,
		work:    newFakeWork(t, fs),
		history: history.NewStore(db),
		store:   storage.NewMemoryStore(),
	}

	var next Executer = NewDirect(nil)
	if cached {
		next = NewSkipCached(&contentKeys{fs: fs}, f.store, newPacker(t, fs), next, nil)
	}
	f.runner = NewSkipUpToDate(f.history, newSnapshotter(t, fs), fs, next, nil)
	return f
}

func TestSkipUpToDate(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged work is up to date", func(t *testing.T) {
		f := setupUpToDate(t, false)

		assert.Equal(t, ExecutedNotCached, f.runner.Execute(ctx, f.work).Outcome)
		assert.Equal(t, UpToDate, f.runner.Execute(ctx, f.work).Outcome)
		assert.Equal(t, 1, f.work.runs)

		exec, ok, err := f.history.Load("copy")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, exec.Succeeded)
		assert.Equal(t, []string{"/ws/out", "/ws/out/result.txt"}, exec.Outputs.Paths())

		reason, err := f.runner.Status(f.work)
		require.NoError(t, err)
		assert.Empty(t, reason)
	})

	tests := []struct {
		name   string
		change func(t *testing.T, f *upToDateFixture)
		reason string
	}{
		{"input changed", func(t *testing.T, f *upToDateFixture) {
			require.NoError(t, afero.WriteFile(f.fs, "/ws/src/input.txt", []byte("v22"), 0644))
		}, "input changed /ws/src/input.txt"},
		{"input added", func(t *testing.T, f *upToDateFixture) {
			require.NoError(t, afero.WriteFile(f.fs, "/ws/src/extra.txt", []byte("x"), 0644))
		}, "input added /ws/src/extra.txt"},
		{"output removed", func(t *testing.T, f *upToDateFixture) {
			require.NoError(t, f.fs.Remove("/ws/out/result.txt"))
		}, "output removed /ws/out/result.txt"},
		{"output tampered", func(t *testing.T, f *upToDateFixture) {
			require.NoError(t, afero.WriteFile(f.fs, "/ws/out/result.txt", []byte("edited"), 0644))
		}, "output changed /ws/out/result.txt"},
		{"action changed", func(t *testing.T, f *upToDateFixture) {
			f.work.action = "cp -p"
		}, "action changed"},
		{"output declared", func(t *testing.T, f *upToDateFixture) {
			f.work.extra = []pack.Root{{Name: "docs", Path: "/ws/docs"}}
		}, "declared outputs changed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupUpToDate(t, false)
			require.Equal(t, ExecutedNotCached, f.runner.Execute(ctx, f.work).Outcome)

			tt.change(t, f)
			reason, err := f.runner.Status(f.work)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, reason)

			assert.Equal(t, ExecutedNotCached, f.runner.Execute(ctx, f.work).Outcome)
			assert.Equal(t, 2, f.work.runs)
			assert.Equal(t, UpToDate, f.runner.Execute(ctx, f.work).Outcome)
		})
	}

	t.Run("failed work is never up to date", func(t *testing.T) {
		f := setupUpToDate(t, false)
		f.work.fail = errBoom
		assert.Equal(t, ExecutionFailed, f.runner.Execute(ctx, f.work).Outcome)

		reason, err := f.runner.Status(f.work)
		require.NoError(t, err)
		assert.Equal(t, "previous execution failed", reason)

		f.work.fail = nil
		assert.Equal(t, ExecutedNotCached, f.runner.Execute(ctx, f.work).Outcome)
		assert.Equal(t, 2, f.work.runs)
	})

	t.Run("reverted inputs are replayed from cache", func(t *testing.T) {
		f := setupUpToDate(t, true)

		assert.Equal(t, ExecutedAndCached, f.runner.Execute(ctx, f.work).Outcome)
		require.NoError(t, afero.WriteFile(f.fs, "/ws/src/input.txt", []byte("v2"), 0644))
		assert.Equal(t, ExecutedAndCached, f.runner.Execute(ctx, f.work).Outcome)
		assert.Equal(t, "built v2", readOutput(t, f.fs))

		require.NoError(t, afero.WriteFile(f.fs, "/ws/src/input.txt", []byte("v1"), 0644))
		res := f.runner.Execute(ctx, f.work)
		assert.Equal(t, SatisfiedFromCache, res.Outcome)
		assert.Equal(t, 2, f.work.runs)
		assert.Equal(t, "built v1", readOutput(t, f.fs))

		exec, ok, err := f.history.Load("copy")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, res.Key.String(), exec.CacheKey)
		assert.Equal(t, UpToDate, f.runner.Execute(ctx, f.work).Outcome)
	})
}

func TestTrackOutputs(t *testing.T) {
	file := func(content string, mtime int64) snapshot.Entry {
		return snapshot.FileContent([]byte(content), mtime)
	}
	build := func(pairs ...any) *snapshot.Snapshot {
		b := snapshot.NewBuilder(len(pairs) / 2)
		for i := 0; i < len(pairs); i += 2 {
			b.Add(pairs[i].(string), pairs[i+1].(snapshot.Entry))
		}
		return b.Build()
	}
	declared := []string{"/out"}

	recorded := build(
		"/old/report.txt", file("r", 1),
		"/out", snapshot.Directory,
		"/out/kept.o", file("k", 1),
		"/out/deleted.o", file("d", 1),
	)
	before := build(
		"/out", snapshot.Directory,
		"/out/kept.o", file("k", 1),
		"/out/deleted.o", file("d", 1),
		"/out/foreign.o", file("f", 1),
	)
	after := build(
		"/out", snapshot.Directory,
		"/out/kept.o", file("k", 1),
		"/out/foreign.o", file("f", 1),
		"/out/new.o", file("n", 2),
	)

	t.Run("executed", func(t *testing.T) {
		got := trackOutputs(recorded, before, after, declared, false)
		assert.ElementsMatch(t, []string{"/old/report.txt", "/out", "/out/kept.o", "/out/new.o"}, got.Paths())
	})

	t.Run("replayed", func(t *testing.T) {
		got := trackOutputs(recorded, before, after, declared, true)
		assert.ElementsMatch(t, []string{"/old/report.txt", "/out", "/out/kept.o", "/out/foreign.o", "/out/new.o"}, got.Paths())
	})

	t.Run("first run", func(t *testing.T) {
		got := trackOutputs(nil, build("/out", snapshot.Missing), after, declared, false)
		assert.ElementsMatch(t, []string{"/out", "/out/kept.o", "/out/foreign.o", "/out/new.o"}, got.Paths())
	})
}
