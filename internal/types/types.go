package types

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a transcription job
type Status string

// Job status constants
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{StatusQueued, StatusProcessing, StatusRetrying, StatusCompleted, StatusFailed}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no automatic transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Store and lifecycle errors
var (
	ErrNotFound     = errors.New("job not found")
	ErrDuplicateKey = errors.New("job already exists")
	ErrPrecondition = errors.New("job is not in the required state")
)

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is what the transcription engine produces for one audio file
type Transcript struct {
	FullText           string
	Segments           []Segment
	Language           string
	LanguageConfidence float64
	DurationSeconds    float64
}

// Job is the persisted record of one transcription request.
// Result fields are nil until the job completes.
type Job struct {
	ID                 string    `json:"id"`
	Status             Status    `json:"status"`
	OriginalFilename   string    `json:"original_filename"`
	AudioPath          string    `json:"audio_path"`
	Language           *string   `json:"language"`
	LanguageConfidence *float64  `json:"language_confidence"`
	DurationSeconds    *float64  `json:"duration_seconds"`
	FullText           *string   `json:"full_text"`
	Segments           []Segment `json:"segments"`
	Error              *string   `json:"error"`
	RetryCount         int       `json:"retry_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Patch is a partial update. Nil fields are left untouched.
// Error set to an empty string clears the stored error.
type Patch struct {
	Status             *Status
	Language           *string
	LanguageConfidence *float64
	DurationSeconds    *float64
	FullText           *string
	Segments           *[]Segment
	Error              *string
	RetryCount         *int
}

// Apply merges the patch into j. Stores use it to build the returned record.
func (p Patch) Apply(j *Job) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Language != nil {
		j.Language = Ptr(*p.Language)
	}
	if p.LanguageConfidence != nil {
		j.LanguageConfidence = Ptr(*p.LanguageConfidence)
	}
	if p.DurationSeconds != nil {
		j.DurationSeconds = Ptr(*p.DurationSeconds)
	}
	if p.FullText != nil {
		j.FullText = Ptr(*p.FullText)
	}
	if p.Segments != nil {
		j.Segments = append([]Segment(nil), (*p.Segments)...)
	}
	if p.Error != nil {
		if *p.Error == "" {
			j.Error = nil
		} else {
			j.Error = Ptr(*p.Error)
		}
	}
	if p.RetryCount != nil {
		j.RetryCount = *p.RetryCount
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
