package handlers

import (
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
)

// LogBuffer captures the most recent log lines in memory
type LogBuffer struct {
	lines []string
	max   int
	mu    sync.Mutex
}

// NewLogBuffer keeps at most max lines
func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 1000
	}
	return &LogBuffer{lines: make([]string, 0, max), max: max}
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, strings.TrimRight(string(p), "\n"))
	if len(lb.lines) > lb.max {
		lb.lines = lb.lines[len(lb.lines)-lb.max:]
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first
func (lb *LogBuffer) Lines() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

// Handle serves the buffered lines
func (lb *LogBuffer) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"logs": lb.Lines(),
	})
}
