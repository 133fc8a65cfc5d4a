package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// JobLookup tells the scheduler whether an upload directory still has a job
type JobLookup interface {
	Get(ctx context.Context, id string) (*types.Job, error)
}

// Scheduler removes stale temp files and upload directories whose job
// record no longer exists (left behind when a best-effort delete failed).
type Scheduler struct {
	tempDir   string
	uploadDir string
	interval  time.Duration
	maxAge    time.Duration
	jobs      JobLookup
	logger    *slog.Logger
	stopChan  chan struct{}
	now       func() time.Time
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(tempDir, uploadDir string, interval, maxAge time.Duration, jobs JobLookup, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tempDir:   tempDir,
		uploadDir: uploadDir,
		interval:  interval,
		maxAge:    maxAge,
		jobs:      jobs,
		logger:    logger,
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// Start runs one sweep immediately, then one per interval
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("running initial cleanup")
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("cleanup scheduler started", "interval", s.interval.String(), "max_age", s.maxAge.String())
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.logger.Info("cleanup scheduler stopped")
}

// Sweep performs one cleanup pass
func (s *Scheduler) Sweep(ctx context.Context) {
	s.cleanOldTempFiles()
	s.cleanOrphanUploads(ctx)
}

// cleanOldTempFiles removes files older than maxAge from the temp directory
func (s *Scheduler) cleanOldTempFiles() {
	if s.tempDir == "" {
		return
	}
	now := s.now()

	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age > s.maxAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to delete old temp file", "path", path, "error", err)
			} else {
				deletedCount++
				deletedSize += size
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("error during temp cleanup", "error", err)
	}

	if deletedCount > 0 {
		s.logger.Info("temp cleanup complete",
			"files", deletedCount,
			"freed_mb", float64(deletedSize)/(1024*1024))
	}
}

// cleanOrphanUploads removes upload directories that have no job record
func (s *Scheduler) cleanOrphanUploads(ctx context.Context) {
	if s.uploadDir == "" || s.jobs == nil {
		return
	}
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read upload directory", "dir", s.uploadDir, "error", err)
		}
		return
	}

	now := s.now()
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) <= s.maxAge {
			continue
		}

		_, err = s.jobs.Get(ctx, entry.Name())
		if !errors.Is(err, types.ErrNotFound) {
			continue
		}

		dir := filepath.Join(s.uploadDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove orphan upload", "dir", dir, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("orphan upload cleanup complete", "directories", removed)
	}
}

// EnsureDirExists creates a directory if it doesn't exist
func EnsureDirExists(dir string) error {
	return os.MkdirAll(dir, 0755)
}
