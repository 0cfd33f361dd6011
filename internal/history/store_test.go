package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rand/hsml-launch/internal/launch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{
		Path:              filepath.Join(t.TempDir(), "db", "history.db"),
		CreateIfNotExists: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	run := &Run{
		GPUID:     "0,1",
		Python:    "python",
		Module:    "experiments.hsml",
		Args:      []string{"--seed", "0", "--use-pool", "True"},
		WorkDir:   "/work",
		StartedAt: start,
		EndedAt:   start.Add(30 * time.Second),
		ExitCode:  3,
		UserCPUMS: 1200,
		WallMS:    30000,
	}
	require.NoError(t, store.Save(ctx, run))
	require.True(t, strings.HasPrefix(run.ID, "run:"))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.GPUID, got.GPUID)
	assert.Equal(t, run.Args, got.Args)
	assert.Equal(t, 3, got.ExitCode)
	assert.Equal(t, int64(1200), got.UserCPUMS)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, 30*time.Second, got.Duration())

	// Prefix without the run: scheme
	short := strings.TrimPrefix(run.ID, "run:")[:8]
	got, err = store.Get(ctx, short)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
}

func TestStore_GetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, gpu := range []string{"0", "1", "2"} {
		require.NoError(t, store.Save(ctx, &Run{
			GPUID:     gpu,
			Python:    "python",
			Module:    "experiments.hsml",
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	runs, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "2", runs[0].GPUID)
	assert.Equal(t, "0", runs[2].GPUID)

	runs, err = store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "2", runs[0].GPUID)
}

func TestStore_InMemory(t *testing.T) {
	store, err := Open(Options{})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Run{GPUID: "", StartedAt: time.Now()}))

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "", runs[0].GPUID)
	assert.Empty(t, store.Path())
}

func TestFromResult(t *testing.T) {
	start := time.Now()
	res := &launch.Result{
		GPUID:     "1",
		Argv:      []string{"/venv/bin/python", "-m", "experiments.hsml", "--epochs", "50"},
		ExitCode:  0,
		StartedAt: start,
		EndedAt:   start.Add(time.Second),
		Usage:     launch.Usage{UserCPUTimeMS: 10, SystemCPUTimeMS: 2, PeakMemoryMB: 512, WallTimeMS: 1000},
	}

	run := FromResult(res, "/work")
	assert.Equal(t, "/venv/bin/python", run.Python)
	assert.Equal(t, "experiments.hsml", run.Module)
	assert.Equal(t, []string{"--epochs", "50"}, run.Args)
	assert.Equal(t, "/work", run.WorkDir)
	assert.Equal(t, int64(2), run.SystemCPUMS)
	assert.Equal(t, 512.0, run.PeakMemoryMB)
}
