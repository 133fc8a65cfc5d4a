package handlers

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/transcription"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// ValidationError rejects a submission before any job is created
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// validateUpload checks the extension and size of an incoming audio file
func validateUpload(filename string, size, maxBytes int64) error {
	if !transcription.ValidateAudioFormat(filename) {
		return &ValidationError{
			Code:    "ERR_INVALID_FORMAT",
			Message: fmt.Sprintf("Unsupported format '%s'", strings.ToLower(filepath.Ext(filename))),
		}
	}
	if maxBytes > 0 && size > maxBytes {
		return &ValidationError{
			Code:    "ERR_FILE_TOO_LARGE",
			Message: fmt.Sprintf("File too large (%.1f MB)", float64(size)/(1024*1024)),
		}
	}
	return nil
}

// writeError maps service errors onto HTTP responses
func writeError(c *fiber.Ctx, err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return errorJSON(c, fiber.StatusUnprocessableEntity, verr.Message, verr.Code)
	case errors.Is(err, types.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Job not found", "ERR_NOT_FOUND")
	case errors.Is(err, types.ErrPrecondition):
		return errorJSON(c, fiber.StatusBadRequest, preconditionMessage(err), "ERR_PRECONDITION")
	case errors.Is(err, types.ErrDuplicateKey):
		return errorJSON(c, fiber.StatusConflict, "Job already exists", "ERR_DUPLICATE")
	default:
		return errorJSON(c, fiber.StatusInternalServerError, "Internal server error", "ERR_INTERNAL")
	}
}

func errorJSON(c *fiber.Ctx, status int, msg, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}

// preconditionMessage drops the sentinel suffix from a wrapped precondition error
func preconditionMessage(err error) string {
	msg := err.Error()
	suffix := ": " + types.ErrPrecondition.Error()
	if trimmed := strings.TrimSuffix(msg, suffix); trimmed != "" {
		msg = trimmed
	}
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
