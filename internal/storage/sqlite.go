package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// sqliteTimeLayout is fixed width so that text order equals time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore handles job persistence in a SQLite database
type SQLiteStore struct {
	db    *sql.DB
	mu    sync.Mutex // single writer
	clock *clock
}

// NewSQLiteStore opens (or creates) the job database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'queued',
		original_filename TEXT NOT NULL,
		audio_path TEXT NOT NULL,
		language TEXT,
		language_confidence REAL,
		duration_seconds REAL,
		full_text TEXT,
		segments TEXT,
		error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &SQLiteStore{db: db, clock: newClock(time.Nanosecond)}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Create inserts a new queued job
func (s *SQLiteStore) Create(ctx context.Context, id, filename, audioPath string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.next(time.Time{})
	ts := now.Format(sqliteTimeLayout)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, original_filename, audio_path, retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, string(types.StatusQueued), filename, audioPath, ts, ts)
	if err != nil {
		if isSQLiteDuplicate(err) {
			return nil, fmt.Errorf("create job %s: %w", id, types.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return &types.Job{
		ID:               id,
		Status:           types.StatusQueued,
		OriginalFilename: filename,
		AudioPath:        audioPath,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Get retrieves a job by ID
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// Update merges the patch into the stored job and bumps updated_at
func (s *SQLiteStore) Update(ctx context.Context, id string, patch types.Patch) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sets, err := patchAssignments(patch)
	if err != nil {
		return nil, err
	}

	updatedAt := s.clock.next(current.UpdatedAt)
	clauses := make([]string, 0, len(sets)+1)
	args := make([]any, 0, len(sets)+2)
	for _, a := range sets {
		clauses = append(clauses, a.column+" = ?")
		args = append(args, a.value)
	}
	clauses = append(clauses, "updated_at = ?")
	args = append(args, updatedAt.Format(sqliteTimeLayout), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(clauses, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}

	patch.Apply(current)
	current.UpdatedAt = updatedAt
	return current, nil
}

// List returns jobs newest first, optionally filtered by status
func (s *SQLiteStore) List(ctx context.Context, status *types.Status) ([]*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*types.Job, 0)
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Delete removes a job, reporting whether a record existed
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	return n > 0, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(sc rowScanner) (*types.Job, error) {
	var (
		r                jobRow
		created, updated string
	)
	if err := sc.Scan(append(r.dest(), &created, &updated)...); err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(sqliteTimeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	updatedAt, err := time.Parse(sqliteTimeLayout, updated)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updated, err)
	}
	return r.toJob(createdAt, updatedAt)
}

func isSQLiteDuplicate(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
