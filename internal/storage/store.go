package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// JobStore persists transcription jobs. Create, Update and Delete are
// serialized inside the implementation; reads run against the latest
// committed state.
type JobStore interface {
	Create(ctx context.Context, id, filename, audioPath string) (*types.Job, error)
	Get(ctx context.Context, id string) (*types.Job, error)
	Update(ctx context.Context, id string, patch types.Patch) (*types.Job, error)
	List(ctx context.Context, status *types.Status) ([]*types.Job, error)
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

const jobColumns = `id, status, original_filename, audio_path, language, language_confidence,
	duration_seconds, full_text, segments, error, retry_count, created_at, updated_at`

// clock hands out strictly increasing timestamps at the given resolution.
type clock struct {
	mu         sync.Mutex
	last       time.Time
	resolution time.Duration
	now        func() time.Time
}

func newClock(resolution time.Duration) *clock {
	return &clock{resolution: resolution, now: time.Now}
}

// next returns a timestamp after both the previous one handed out and floor.
func (c *clock) next(floor time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UTC().Truncate(c.resolution)
	if c.last.After(floor) {
		floor = c.last
	}
	if !ts.After(floor) {
		ts = floor.Add(c.resolution)
	}
	c.last = ts
	return ts
}

// jobRow holds the nullable scan targets shared by the SQL stores.
type jobRow struct {
	id         string
	status     string
	filename   string
	audioPath  string
	language   sql.NullString
	confidence sql.NullFloat64
	duration   sql.NullFloat64
	fullText   sql.NullString
	segments   sql.NullString
	errMsg     sql.NullString
	retryCount int
}

func (r *jobRow) dest() []any {
	return []any{
		&r.id, &r.status, &r.filename, &r.audioPath, &r.language, &r.confidence,
		&r.duration, &r.fullText, &r.segments, &r.errMsg, &r.retryCount,
	}
}

func (r *jobRow) toJob(createdAt, updatedAt time.Time) (*types.Job, error) {
	j := &types.Job{
		ID:               r.id,
		Status:           types.Status(r.status),
		OriginalFilename: r.filename,
		AudioPath:        r.audioPath,
		RetryCount:       r.retryCount,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}
	if r.language.Valid {
		j.Language = types.Ptr(r.language.String)
	}
	if r.confidence.Valid {
		j.LanguageConfidence = types.Ptr(r.confidence.Float64)
	}
	if r.duration.Valid {
		j.DurationSeconds = types.Ptr(r.duration.Float64)
	}
	if r.fullText.Valid {
		j.FullText = types.Ptr(r.fullText.String)
	}
	if r.errMsg.Valid {
		j.Error = types.Ptr(r.errMsg.String)
	}
	if r.segments.Valid && r.segments.String != "" {
		if err := json.Unmarshal([]byte(r.segments.String), &j.Segments); err != nil {
			return nil, fmt.Errorf("decode segments for job %s: %w", r.id, err)
		}
	}
	return j, nil
}

// assignment is one column = value pair of a partial update.
type assignment struct {
	column string
	value  any
}

// patchAssignments turns the non-nil fields of a patch into column writes.
func patchAssignments(p types.Patch) ([]assignment, error) {
	var out []assignment
	if p.Status != nil {
		out = append(out, assignment{"status", string(*p.Status)})
	}
	if p.Language != nil {
		out = append(out, assignment{"language", *p.Language})
	}
	if p.LanguageConfidence != nil {
		out = append(out, assignment{"language_confidence", *p.LanguageConfidence})
	}
	if p.DurationSeconds != nil {
		out = append(out, assignment{"duration_seconds", *p.DurationSeconds})
	}
	if p.FullText != nil {
		out = append(out, assignment{"full_text", *p.FullText})
	}
	if p.Segments != nil {
		segments := *p.Segments
		if segments == nil {
			segments = []types.Segment{}
		}
		blob, err := json.Marshal(segments)
		if err != nil {
			return nil, fmt.Errorf("encode segments: %w", err)
		}
		out = append(out, assignment{"segments", string(blob)})
	}
	if p.Error != nil {
		var v any
		if *p.Error != "" {
			v = *p.Error
		}
		out = append(out, assignment{"error", v})
	}
	if p.RetryCount != nil {
		out = append(out, assignment{"retry_count", *p.RetryCount})
	}
	return out, nil
}
