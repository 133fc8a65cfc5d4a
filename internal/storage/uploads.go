package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// UploadStore keeps each job's input audio under <root>/<job id>/.
// Files are written once at submission and only read afterwards.
type UploadStore struct {
	root   string
	logger *slog.Logger
}

// NewUploadStore creates the upload root if needed.
func NewUploadStore(root string, logger *slog.Logger) (*UploadStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &UploadStore{root: root, logger: logger}, nil
}

// Root returns the upload directory.
func (u *UploadStore) Root() string { return u.root }

// PathFor returns where the original upload of a job lives.
func (u *UploadStore) PathFor(jobID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return filepath.Join(u.root, jobID, "original"+ext)
}

// Save copies r into the job's upload directory and returns the file path.
func (u *UploadStore) Save(jobID, filename string, r io.Reader) (string, error) {
	path := u.PathFor(jobID, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.RemoveAll(filepath.Dir(path))
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload: %w", err)
	}
	return path, nil
}

// Remove deletes everything stored for a job. Failures are logged and
// returned but callers treat removal as best effort.
func (u *UploadStore) Remove(jobID string) error {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	dir := filepath.Join(u.root, jobID)
	if err := os.RemoveAll(dir); err != nil {
		u.logger.Warn("failed to remove job uploads", "job_id", jobID, "dir", dir, "error", err)
		return err
	}
	return nil
}
