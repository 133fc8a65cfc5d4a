package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/queue"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
)

var (
	driveFilePattern = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveOpenPattern = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	driveIDPattern   = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
)

// GDriveHandler downloads a publicly shared Google Drive file and submits it
type GDriveHandler struct {
	jobs        *queue.Service
	uploads     *storage.UploadStore
	maxBytes    int64
	client      *http.Client
	downloadURL func(fileID string) string
	logger      *slog.Logger
}

// NewGDriveHandler creates a new Google Drive handler
func NewGDriveHandler(jobs *queue.Service, uploads *storage.UploadStore, maxSizeMB int, logger *slog.Logger) *GDriveHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GDriveHandler{
		jobs:     jobs,
		uploads:  uploads,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		client:   &http.Client{Timeout: 30 * time.Minute},
		downloadURL: func(fileID string) string {
			return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", fileID)
		},
		logger: logger,
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Handle processes Google Drive link requests
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body", "ERR_INVALID_BODY")
	}
	if req.URL == "" {
		return errorJSON(c, fiber.StatusBadRequest, "URL is required", "ERR_NO_URL")
	}

	fileID := extractGDriveFileID(req.URL)
	if fileID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid Google Drive URL", "ERR_INVALID_URL")
	}

	h.logger.Info("downloading from google drive", "file_id", fileID)

	httpReq, err := http.NewRequestWithContext(c.UserContext(), http.MethodGet, h.downloadURL(fileID), nil)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid Google Drive URL", "ERR_INVALID_URL")
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.logger.Error("google drive download failed", "file_id", fileID, "error", err)
		return errorJSON(c, fiber.StatusBadGateway, "Failed to download file from Google Drive", "ERR_DOWNLOAD_FAILED")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorJSON(c, fiber.StatusBadRequest, "File not accessible (may be private or doesn't exist)", "ERR_FILE_NOT_ACCESSIBLE")
	}

	filename := driveFilename(resp, req.Name)
	if err := validateUpload(filename, resp.ContentLength, h.maxBytes); err != nil {
		return writeError(c, err)
	}

	body := io.Reader(resp.Body)
	if h.maxBytes > 0 {
		body = &limitedReader{r: resp.Body, remaining: h.maxBytes}
	}
	jobID, err := ingest(c.UserContext(), h.jobs, h.uploads, h.logger, filename, body)
	if errors.Is(err, errTooLarge) {
		return writeError(c, &ValidationError{Code: "ERR_FILE_TOO_LARGE", Message: "File too large"})
	}
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":     jobID,
		"status": "queued",
	})
}

// driveFilename prefers the name Drive sends, then the caller's name
func driveFilename(resp *http.Response, name string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return filepath.Base(params["filename"])
		}
	}
	if name == "" {
		return "gdrive_file.mp3"
	}
	if filepath.Ext(name) == "" {
		return name + ".mp3"
	}
	return name
}

// extractGDriveFileID extracts file ID from various Google Drive URL formats
func extractGDriveFileID(url string) string {
	// https://drive.google.com/file/d/{ID}/view
	if matches := driveFilePattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}
	// https://drive.google.com/open?id={ID}
	if matches := driveOpenPattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}
	// bare ID
	if matches := driveIDPattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}
	return ""
}

var errTooLarge = errors.New("download exceeds size limit")

// limitedReader fails instead of truncating once the limit is passed
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}
