package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, newTestSQLiteStore(t))
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = store.Create(ctx, "job-1", "a.wav", "/a.wav")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	job, err := reopened.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "a.wav", job.OriginalFilename)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"file:jobs.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		sqliteDSN("jobs.db"))
	assert.Equal(t,
		"file:jobs.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		sqliteDSN("jobs.db?mode=rwc"))
}
