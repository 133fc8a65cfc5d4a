package handlers

import (
	"context"
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/queue"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
)

// ingest stores an audio stream for a new job and submits it. The upload is
// removed again when the job record cannot be created.
func ingest(ctx context.Context, jobs *queue.Service, uploads *storage.UploadStore, logger *slog.Logger, filename string, r io.Reader) (string, error) {
	jobID := uuid.New().String()
	audioPath, err := uploads.Save(jobID, filename, r)
	if err != nil {
		logger.Error("failed to save upload", "job_id", jobID, "error", err)
		return "", err
	}
	if _, err := jobs.Submit(ctx, jobID, filename, audioPath); err != nil {
		_ = uploads.Remove(jobID)
		return "", err
	}
	return jobID, nil
}

// UploadHandler handles file uploads
type UploadHandler struct {
	jobs     *queue.Service
	uploads  *storage.UploadStore
	maxBytes int64
	logger   *slog.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(jobs *queue.Service, uploads *storage.UploadStore, maxSizeMB int, logger *slog.Logger) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{
		jobs:     jobs,
		uploads:  uploads,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		logger:   logger,
	}
}

// Handle processes the upload request
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "No file uploaded", "ERR_NO_FILE")
	}

	if err := validateUpload(file.Filename, file.Size, h.maxBytes); err != nil {
		return writeError(c, err)
	}

	src, err := file.Open()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to read upload", "ERR_SAVE_FAILED")
	}
	defer src.Close()

	jobID, err := ingest(c.UserContext(), h.jobs, h.uploads, h.logger, file.Filename, src)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":     jobID,
		"status": "queued",
	})
}
