package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'queued',
	original_filename TEXT NOT NULL,
	audio_path TEXT NOT NULL,
	language TEXT,
	language_confidence DOUBLE PRECISION,
	duration_seconds DOUBLE PRECISION,
	full_text TEXT,
	segments TEXT,
	error TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// PostgresStore keeps jobs in PostgreSQL. It is used when the deployment
// already runs a database server and wants job state outside the container.
type PostgresStore struct {
	pool  *pgxpool.Pool
	mu    sync.Mutex
	clock *clock
}

// NewPostgresStore connects to dsn and ensures the jobs table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	// TIMESTAMPTZ keeps microseconds.
	return &PostgresStore{pool: pool, clock: newClock(time.Microsecond)}, nil
}

func (s *PostgresStore) Create(ctx context.Context, id, filename, audioPath string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.next(time.Time{})
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, original_filename, audio_path, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $5)`,
		id, string(types.StatusQueued), filename, audioPath, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("create job %s: %w", id, types.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("insert job: %w", err)
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

func (s *PostgresStore) Get(ctx context.Context, id string) (*types.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch types.Patch) (*types.Job, error) {
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
		args = append(args, a.value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", a.column, len(args)))
	}
	args = append(args, updatedAt)
	clauses = append(clauses, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d`, strings.Join(clauses, ", "), len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}

	patch.Apply(current)
	current.UpdatedAt = updatedAt
	return current, nil
}

func (s *PostgresStore) List(ctx context.Context, status *types.Status) ([]*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*types.Job, 0)
	for rows.Next() {
		j, err := scanPostgresJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresJob(sc rowScanner) (*types.Job, error) {
	var (
		r                jobRow
		created, updated time.Time
	)
	if err := sc.Scan(append(r.dest(), &created, &updated)...); err != nil {
		return nil, err
	}
	return r.toJob(created.UTC(), updated.UTC())
}
