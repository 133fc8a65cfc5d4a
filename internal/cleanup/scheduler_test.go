package cleanup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

type knownJobs map[string]bool

func (k knownJobs) Get(_ context.Context, id string) (*types.Job, error) {
	if k[id] {
		return &types.Job{ID: id}, nil
	}
	return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
}

func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(path, old, old))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSchedulerSweep(t *testing.T) {
	tempDir := t.TempDir()
	uploadDir := t.TempDir()

	staleTemp := filepath.Join(tempDir, "normalized_old.wav")
	freshTemp := filepath.Join(tempDir, "normalized_new.wav")
	require.NoError(t, os.WriteFile(staleTemp, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(freshTemp, []byte("x"), 0644))
	age(t, staleTemp, 48*time.Hour)

	mkUpload := func(id string, old bool) string {
		dir := filepath.Join(uploadDir, id)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "original.wav"), []byte("x"), 0644))
		if old {
			age(t, dir, 48*time.Hour)
		}
		return dir
	}
	orphanOld := mkUpload("orphan-old", true)
	orphanFresh := mkUpload("orphan-fresh", false)
	ownedOld := mkUpload("owned-old", true)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(tempDir, uploadDir, time.Hour, 24*time.Hour, knownJobs{"owned-old": true}, logger)
	s.Sweep(context.Background())

	assert.False(t, exists(staleTemp), "stale temp file kept")
	assert.True(t, exists(freshTemp), "fresh temp file removed")
	assert.False(t, exists(orphanOld), "old orphan upload kept")
	assert.True(t, exists(orphanFresh), "fresh orphan upload removed")
	assert.True(t, exists(ownedOld), "upload with a job record removed")
}

func TestSchedulerMissingDirectories(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	s := NewScheduler(missing, missing, time.Hour, time.Hour, knownJobs{}, nil)
	assert.NotPanics(t, func() { s.Sweep(context.Background()) })
}

func TestSchedulerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(t.TempDir(), t.TempDir(), 10*time.Millisecond, time.Hour, knownJobs{}, nil)
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}

func TestEnsureDirExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDirExists(dir))
	assert.True(t, exists(dir))
}
