package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// FileRemover deletes the uploaded files that belong to a job
type FileRemover interface {
	Remove(jobID string) error
}

// Service is the job API used by the HTTP boundary: it creates jobs,
// schedules them on the pool and applies the manual actions.
type Service struct {
	store    storage.JobStore
	pool     *WorkerPool
	files    FileRemover
	notifier Notifier
	logger   *slog.Logger
	retryMu  sync.Mutex // one manual retry or recovery at a time
}

// NewService wires the store, pool and upload storage together
func NewService(store storage.JobStore, pool *WorkerPool, files FileRemover, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, pool: pool, files: files, logger: logger}
	pool.OnPanic(s.failPanicked)
	return s
}

// SetNotifier reports the status changes made by the service itself
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) notify(ctx context.Context, job *types.Job) {
	if s.notifier != nil && job != nil {
		s.notifier.Notify(ctx, job)
	}
}

// Submit creates a queued job and schedules it
func (s *Service) Submit(ctx context.Context, id, filename, audioPath string) (*types.Job, error) {
	job, err := s.store.Create(ctx, id, filename, audioPath)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, job)
	s.pool.Submit(id)
	s.logger.Info("job enqueued", "job_id", id, "filename", filename)
	return job, nil
}

// Get returns the full job record
func (s *Service) Get(ctx context.Context, id string) (*types.Job, error) {
	return s.store.Get(ctx, id)
}

// Segments returns the ordered segments of a completed job
func (s *Service) Segments(ctx context.Context, id string) ([]types.Segment, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != types.StatusCompleted {
		return nil, fmt.Errorf("job is '%s', not completed yet: %w", job.Status, types.ErrPrecondition)
	}
	if job.Segments == nil {
		return []types.Segment{}, nil
	}
	return job.Segments, nil
}

// List returns jobs newest first, optionally filtered by status
func (s *Service) List(ctx context.Context, status *types.Status) ([]*types.Job, error) {
	return s.store.List(ctx, status)
}

// Delete removes the job's uploaded files (best effort) and its record.
// It reports false when the job does not exist.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if s.files != nil {
		if err := s.files.Remove(id); err != nil {
			s.logger.Warn("upload removal failed, deleting record anyway", "job_id", id, "error", err)
		}
	}

	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("job deleted", "job_id", id)
	}
	return deleted, nil
}

// RetryFailedJob requeues a failed job with a fresh retry budget. It
// returns false without changing anything when the job is missing or not
// failed.
func (s *Service) RetryFailedJob(ctx context.Context, id string) (bool, error) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	job, err := s.store.Get(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status != types.StatusFailed {
		return false, nil
	}

	requeued, err := s.store.Update(ctx, id, types.Patch{
		Status:     types.Ptr(types.StatusQueued),
		RetryCount: types.Ptr(0),
		Error:      types.Ptr(""),
	})
	if err != nil {
		return false, err
	}
	s.notify(ctx, requeued)
	s.pool.Submit(id)
	s.logger.Info("failed job requeued", "job_id", id)
	return true, nil
}

// Recover requeues every job left unfinished by a previous run, oldest
// first. Retry counts are kept so recovered jobs do not get a fresh budget.
func (s *Service) Recover(ctx context.Context) (int, error) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	var unfinished []*types.Job
	for _, st := range []types.Status{types.StatusQueued, types.StatusProcessing, types.StatusRetrying} {
		jobs, err := s.store.List(ctx, types.Ptr(st))
		if err != nil {
			return 0, fmt.Errorf("list %s jobs: %w", st, err)
		}
		unfinished = append(unfinished, jobs...)
	}
	sort.SliceStable(unfinished, func(i, j int) bool {
		return unfinished[i].CreatedAt.Before(unfinished[j].CreatedAt)
	})

	for _, job := range unfinished {
		if job.Status != types.StatusQueued {
			requeued, err := s.store.Update(ctx, job.ID, types.Patch{
				Status: types.Ptr(types.StatusQueued),
				Error:  types.Ptr(""),
			})
			if err != nil {
				return 0, fmt.Errorf("requeue job %s: %w", job.ID, err)
			}
			s.notify(ctx, requeued)
		}
		s.pool.Submit(job.ID)
	}
	if len(unfinished) > 0 {
		s.logger.Info("recovered unfinished jobs", "count", len(unfinished))
	}
	return len(unfinished), nil
}

// failPanicked marks a job failed after its run panicked in the worker
func (s *Service) failPanicked(ctx context.Context, jobID string, recovered any) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	msg := truncate(fmt.Sprintf("panic: %v", recovered), maxErrorLength)
	failed, err := s.store.Update(ctx, jobID, types.Patch{
		Status: types.Ptr(types.StatusFailed),
		Error:  types.Ptr(msg),
	})
	if err != nil {
		s.logger.Error("failed to mark panicked job", "job_id", jobID, "error", err)
		return
	}
	s.notify(ctx, failed)
}

// Stats reports pool occupancy
func (s *Service) Stats() PoolStats {
	return s.pool.Stats()
}
