package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// maxErrorLength caps the failure message kept on a job record.
const maxErrorLength = 1024

// Engine produces a transcript for a local audio file
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (*types.Transcript, error)
}

// Exporter publishes a completed transcript somewhere outside the job store
type Exporter interface {
	Name() string
	Export(ctx context.Context, job *types.Job) (string, error)
}

// Notifier is told about every persisted status change
type Notifier interface {
	Notify(ctx context.Context, job *types.Job)
}

// Failure describes one failed engine attempt
type Failure struct {
	Kind    string
	Message string
}

func (f Failure) String() string {
	return f.Kind + ": " + f.Message
}

// Outcome is the result of one engine attempt: exactly one field is set
type Outcome struct {
	Transcript *types.Transcript
	Failure    *Failure
}

// kinded is implemented by engine errors that know their failure kind
type kinded interface {
	FailureKind() string
}

// Processor drives a single job from queued to completed or failed
type Processor struct {
	store     storage.JobStore
	engine    Engine
	policy    RetryPolicy
	exporters []Exporter
	notifier  Notifier
	logger    *slog.Logger
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithExporters adds transcript exporters run after a job completes
func WithExporters(exporters ...Exporter) ProcessorOption {
	return func(p *Processor) { p.exporters = append(p.exporters, exporters...) }
}

// WithNotifier sets the status change notifier
func WithNotifier(n Notifier) ProcessorOption {
	return func(p *Processor) { p.notifier = n }
}

// NewProcessor creates a job processor
func NewProcessor(store storage.JobStore, engine Engine, policy RetryPolicy, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		store:  store,
		engine: engine,
		policy: policy,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes the job until it completes, fails permanently, or ctx is
// cancelled during a backoff wait. Failures are recorded on the job, never
// returned.
func (p *Processor) Run(ctx context.Context, jobID string) {
	job, err := p.store.Get(ctx, jobID)
	if errors.Is(err, types.ErrNotFound) {
		p.logger.Warn("job vanished before processing", "job_id", jobID)
		return
	}
	if err != nil {
		p.logger.Error("failed to load job", "job_id", jobID, "error", err)
		return
	}

	log := p.logger.With("job_id", jobID)
	log.Info("processing job", "filename", job.OriginalFilename)
	retryCount := job.RetryCount

	for {
		job, err = p.transition(ctx, jobID, types.Patch{Status: types.Ptr(types.StatusProcessing)})
		if err != nil {
			return
		}

		start := time.Now()
		outcome := p.attempt(ctx, job.AudioPath)

		if outcome.Failure == nil {
			p.complete(ctx, job, outcome.Transcript, retryCount, time.Since(start))
			return
		}

		retryCount++
		msg := truncate(outcome.Failure.String(), maxErrorLength)
		log.Warn("attempt failed",
			"attempt", retryCount,
			"max_attempts", p.policy.MaxAttempts(),
			"kind", outcome.Failure.Kind,
			"error", outcome.Failure.Message)

		if retryCount > p.policy.MaxRetries {
			p.transition(ctx, jobID, types.Patch{
				Status:     types.Ptr(types.StatusFailed),
				Error:      types.Ptr(msg),
				RetryCount: types.Ptr(retryCount),
			})
			log.Error("job permanently failed", "retry_count", retryCount)
			return
		}

		if _, err := p.transition(ctx, jobID, types.Patch{
			Status:     types.Ptr(types.StatusRetrying),
			Error:      types.Ptr(msg),
			RetryCount: types.Ptr(retryCount),
		}); err != nil {
			return
		}

		delay := p.policy.DelayFor(retryCount)
		log.Info("retrying job", "delay", delay.String())
		if !sleep(ctx, delay) {
			// Left as retrying; startup recovery picks it up again.
			log.Warn("backoff interrupted by shutdown")
			return
		}
	}
}

// attempt runs the engine once and classifies the result
func (p *Processor) attempt(ctx context.Context, audioPath string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("engine panic", "panic", r, "stack", string(debug.Stack()))
			out = Outcome{Failure: &Failure{Kind: "panic", Message: fmt.Sprint(r)}}
		}
	}()

	transcript, err := p.engine.Transcribe(ctx, audioPath)
	if err != nil {
		return Outcome{Failure: classify(err)}
	}
	if transcript == nil {
		return Outcome{Failure: &Failure{Kind: "engine", Message: "engine returned no transcript"}}
	}
	return Outcome{Transcript: transcript}
}

// classify maps an engine error onto a failure kind
func classify(err error) *Failure {
	var k kinded
	switch {
	case errors.As(err, &k):
		return &Failure{Kind: k.FailureKind(), Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: "canceled", Message: err.Error()}
	default:
		return &Failure{Kind: "error", Message: err.Error()}
	}
}

func (p *Processor) complete(ctx context.Context, job *types.Job, t *types.Transcript, retryCount int, took time.Duration) {
	segments := t.Segments
	if segments == nil {
		segments = []types.Segment{}
	}
	done, err := p.transition(ctx, job.ID, types.Patch{
		Status:             types.Ptr(types.StatusCompleted),
		FullText:           types.Ptr(t.FullText),
		Segments:           &segments,
		Language:           types.Ptr(t.Language),
		LanguageConfidence: types.Ptr(t.LanguageConfidence),
		DurationSeconds:    types.Ptr(t.DurationSeconds),
		RetryCount:         types.Ptr(retryCount),
	})
	if err != nil {
		return
	}
	p.logger.Info("job completed",
		"job_id", job.ID,
		"segments", len(segments),
		"language", t.Language,
		"retry_count", retryCount,
		"took", took.Round(time.Millisecond).String())

	p.export(ctx, done)
}

// export hands the completed job to every exporter. Export failures are
// logged only; the job stays completed.
func (p *Processor) export(ctx context.Context, job *types.Job) {
	if len(p.exporters) == 0 {
		return
	}
	var g errgroup.Group
	for _, e := range p.exporters {
		e := e
		g.Go(func() error {
			location, err := e.Export(ctx, job)
			if err != nil {
				p.logger.Warn("transcript export failed", "job_id", job.ID, "exporter", e.Name(), "error", err)
				return nil
			}
			p.logger.Info("transcript exported", "job_id", job.ID, "exporter", e.Name(), "location", location)
			return nil
		})
	}
	g.Wait()
}

// transition persists a patch and notifies listeners
func (p *Processor) transition(ctx context.Context, jobID string, patch types.Patch) (*types.Job, error) {
	job, err := p.store.Update(ctx, jobID, patch)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			p.logger.Warn("job deleted during processing", "job_id", jobID)
		} else {
			p.logger.Error("failed to persist job state", "job_id", jobID, "error", err)
		}
		return nil, err
	}
	if p.notifier != nil {
		p.notifier.Notify(ctx, job)
	}
	return job, nil
}

// sleep waits for d, returning false if ctx ends first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
