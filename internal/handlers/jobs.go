package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/queue"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// JobsHandler serves job queries and the manual actions on a job
type JobsHandler struct {
	jobs *queue.Service
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(jobs *queue.Service) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// Register mounts the job routes on r
func (h *JobsHandler) Register(r fiber.Router) {
	r.Get("/transcribe/:id", h.Get)
	r.Get("/transcribe/:id/status", h.Status)
	r.Get("/transcribe/:id/segments", h.Segments)
	r.Delete("/transcribe/:id", h.Delete)
	r.Post("/transcribe/:id/retry", h.Retry)
	r.Get("/jobs", h.List)
	r.Get("/health", h.Health)
}

// Get returns the full job record
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	job, err := h.jobs.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(job)
}

// Status returns the id, status and last error of a job
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	job, err := h.jobs.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"id":     job.ID,
		"status": job.Status,
		"error":  job.Error,
	})
}

// Segments returns the segments of a completed job
func (h *JobsHandler) Segments(c *fiber.Ctx) error {
	id := c.Params("id")
	segments, err := h.jobs.Segments(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"job_id":   id,
		"segments": segments,
	})
}

// Delete removes a job and its uploaded audio
func (h *JobsHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	deleted, err := h.jobs.Delete(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	if !deleted {
		return writeError(c, types.ErrNotFound)
	}
	return c.JSON(fiber.Map{
		"detail": "Job deleted",
		"job_id": id,
	})
}

// Retry requeues a failed job
func (h *JobsHandler) Retry(c *fiber.Ctx) error {
	id := c.Params("id")
	ok, err := h.jobs.RetryFailedJob(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Job not found or not failed", "ERR_NOT_RETRYABLE")
	}
	return c.JSON(fiber.Map{
		"id":     id,
		"status": types.StatusQueued,
	})
}

// List returns jobs newest first, filtered by the optional status query
func (h *JobsHandler) List(c *fiber.Ctx) error {
	var filter *types.Status
	if raw := c.Query("status"); raw != "" {
		st, err := types.ParseStatus(raw)
		if err != nil {
			return writeError(c, &ValidationError{Code: "ERR_INVALID_STATUS", Message: err.Error()})
		}
		filter = &st
	}

	jobs, err := h.jobs.List(c.UserContext(), filter)
	if err != nil {
		return writeError(c, err)
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	return c.JSON(fiber.Map{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

// Health reports liveness and pool occupancy
func (h *JobsHandler) Health(c *fiber.Ctx) error {
	stats := h.jobs.Stats()
	return c.JSON(fiber.Map{
		"status":  "ok",
		"workers": stats.Workers,
		"active":  stats.Active,
		"pending": stats.Pending,
	})
}
