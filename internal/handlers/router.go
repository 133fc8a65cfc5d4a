package handlers

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

// multipart overhead allowed on top of the audio size limit
const bodyOverhead = 10 * 1024 * 1024

// Routes holds the handlers mounted by NewApp. Nil handlers are skipped.
type Routes struct {
	Upload  *UploadHandler
	Jobs    *JobsHandler
	Stream  *StreamHandler
	GDrive  *GDriveHandler
	YouTube *YouTubeHandler
	Logs    *LogBuffer

	// AccessLog receives one line per request; nil disables request logging
	AccessLog io.Writer
}

// NewApp builds the fiber application with middleware and routes
func NewApp(maxSizeMB int, r Routes) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             maxSizeMB*1024*1024 + bodyOverhead,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
	})

	app.Use(recover.New())
	if r.AccessLog != nil {
		app.Use(logger.New(logger.Config{Output: r.AccessLog}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	if r.Upload != nil {
		app.Post("/transcribe", r.Upload.Handle)
	}
	if r.Jobs != nil {
		r.Jobs.Register(app)
	}
	if r.GDrive != nil {
		app.Post("/gdrive", r.GDrive.Handle)
	}
	if r.YouTube != nil {
		app.Post("/youtube", r.YouTube.Handle)
	}
	if r.Stream != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/stream", websocket.New(r.Stream.Handle))
	}
	if r.Logs != nil {
		app.Get("/logs", r.Logs.Handle)
	}

	return app
}

// ErrorHandler renders errors fiber raises itself (unknown route, body too
// large) in the same shape as handler errors.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "ERR_INTERNAL"
	msg := "Internal server error"

	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		status = ferr.Code
		msg = ferr.Message
		switch ferr.Code {
		case fiber.StatusNotFound:
			code = "ERR_ROUTE_NOT_FOUND"
		case fiber.StatusRequestEntityTooLarge:
			code = "ERR_FILE_TOO_LARGE"
		default:
			code = "ERR_HTTP"
		}
	}
	return errorJSON(c, status, msg, code)
}
