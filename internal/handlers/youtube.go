package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/queue"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
)

var youtubeURLPattern = regexp.MustCompile(`^https?://(www\.|m\.|music\.)?(youtube\.com/(watch|shorts|live)|youtu\.be/)`)

// TitleFunc resolves a human-readable title for a video page
type TitleFunc func(ctx context.Context, url string) (string, error)

// DownloadFunc writes the audio track of url to outputPath
type DownloadFunc func(ctx context.Context, url, outputPath string) error

// YouTubeHandler captures the audio of a YouTube video in the background and
// submits it once the download completes.
type YouTubeHandler struct {
	jobs     *queue.Service
	uploads  *storage.UploadStore
	title    TitleFunc
	download DownloadFunc
	base     context.Context
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewYouTubeHandler creates a new YouTube handler. Captures run under base
// and stop when it is cancelled.
func NewYouTubeHandler(base context.Context, jobs *queue.Service, uploads *storage.UploadStore, logger *slog.Logger) *YouTubeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &YouTubeHandler{
		jobs:     jobs,
		uploads:  uploads,
		title:    ChromeTitle,
		download: YtDlpDownload,
		base:     base,
		logger:   logger,
	}
}

// YouTubeRequest represents the request body
type YouTubeRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Handle processes YouTube video requests
func (h *YouTubeHandler) Handle(c *fiber.Ctx) error {
	var req YouTubeRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body", "ERR_INVALID_BODY")
	}
	if req.URL == "" {
		return errorJSON(c, fiber.StatusBadRequest, "URL is required", "ERR_NO_URL")
	}
	if !youtubeURLPattern.MatchString(req.URL) {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid YouTube URL", "ERR_INVALID_URL")
	}

	jobID := uuid.New().String()

	// Capture audio in background (this can take time for long videos)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.capture(h.base, jobID, req)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":      jobID,
		"status":  "capturing",
		"message": "YouTube audio capture started (this may take a few minutes for long videos)",
	})
}

// Wait blocks until every running capture has finished
func (h *YouTubeHandler) Wait() {
	h.wg.Wait()
}

func (h *YouTubeHandler) capture(ctx context.Context, jobID string, req YouTubeRequest) {
	name := req.Name
	if name == "" {
		title, err := h.title(ctx, req.URL)
		if err != nil {
			h.logger.Warn("youtube title lookup failed", "job_id", jobID, "url", req.URL, "error", err)
		}
		name = title
	}
	if name == "" {
		name = "youtube_video"
	}
	filename := name + ".mp3"
	if len(filename) > 200 {
		filename = filename[:196] + ".mp3"
	}

	outputPath := h.uploads.PathFor(jobID, filename)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		h.logger.Error("failed to create capture directory", "job_id", jobID, "error", err)
		return
	}

	started := time.Now()
	if err := h.download(ctx, req.URL, outputPath); err != nil {
		h.logger.Error("failed to capture youtube audio", "job_id", jobID, "url", req.URL, "error", err)
		_ = h.uploads.Remove(jobID)
		return
	}
	h.logger.Info("youtube audio captured", "job_id", jobID, "took", time.Since(started).String())

	if _, err := h.jobs.Submit(ctx, jobID, filename, outputPath); err != nil {
		h.logger.Error("failed to submit youtube capture", "job_id", jobID, "error", err)
		_ = h.uploads.Remove(jobID)
	}
}

// ChromeTitle loads the page in headless Chrome and returns its title
func ChromeTitle(ctx context.Context, url string) (string, error) {
	ctx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	ctx, cancel = context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	var title string
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Title(&title),
	)
	if err != nil {
		return "", fmt.Errorf("failed to load page: %w", err)
	}
	title = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(title), "- YouTube"))
	return title, nil
}

// YtDlpDownload extracts the audio track with yt-dlp (pip install yt-dlp)
func YtDlpDownload(ctx context.Context, url, outputPath string) error {
	template := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".%(ext)s"
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"-x",                    // Extract audio
		"--audio-format", "mp3", // mp3 output
		"--no-playlist",
		"-o", template,
		url,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("yt-dlp failed: %w\nOutput: %s", err, string(output))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("yt-dlp produced no audio file: %w", err)
	}
	return nil
}
