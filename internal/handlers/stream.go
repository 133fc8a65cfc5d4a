package handlers

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/queue"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
)

const defaultStreamName = "stream_recording.webm"

// StreamHandler handles WebSocket audio streaming.
//
// Protocol: an optional text frame names the recording (its extension picks
// the format), binary frames carry audio, and a text "END" frame submits the
// job. The reply is {"id":..., "status":"queued"} or an error object.
type StreamHandler struct {
	jobs     *queue.Service
	uploads  *storage.UploadStore
	maxBytes int64
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(jobs *queue.Service, uploads *storage.UploadStore, maxSizeMB int, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		jobs:     jobs,
		uploads:  uploads,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		logger:   logger,
	}
}

type streamReply struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Handle processes WebSocket connections
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	var (
		buffer   bytes.Buffer
		filename = defaultStreamName
		ended    bool
	)

	h.logger.Info("websocket stream opened", "remote", c.RemoteAddr().String())

	for !ended {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			h.logger.Info("websocket stream closed before END", "error", err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			msg := strings.TrimSpace(string(message))
			if msg == "END" {
				ended = true
				continue
			}
			if len(msg) > 0 && len(msg) < 200 {
				filename = msg
			}
		case websocket.BinaryMessage:
			if h.maxBytes > 0 && int64(buffer.Len()+len(message)) > h.maxBytes {
				h.reply(c, streamReply{Error: "Stream exceeds maximum size", Code: "ERR_FILE_TOO_LARGE"})
				return
			}
			buffer.Write(message)
		}
	}

	if buffer.Len() == 0 {
		h.reply(c, streamReply{Error: "No audio data received", Code: "ERR_NO_FILE"})
		return
	}
	if err := validateUpload(filename, int64(buffer.Len()), h.maxBytes); err != nil {
		verr := err.(*ValidationError)
		h.reply(c, streamReply{Error: verr.Message, Code: verr.Code})
		return
	}

	jobID, err := ingest(context.Background(), h.jobs, h.uploads, h.logger, filename, &buffer)
	if err != nil {
		h.reply(c, streamReply{Error: "Failed to submit stream", Code: "ERR_SAVE_FAILED"})
		return
	}

	h.logger.Info("stream submitted", "job_id", jobID, "filename", filename)
	h.reply(c, streamReply{ID: jobID, Status: "queued"})
}

func (h *StreamHandler) reply(c *websocket.Conn, r streamReply) {
	if err := c.WriteJSON(r); err != nil {
		h.logger.Warn("failed to write websocket reply", "error", err)
	}
}
