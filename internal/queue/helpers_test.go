package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createJob(t *testing.T, store storage.JobStore) string {
	t.Helper()
	id := uuid.NewString()
	_, err := store.Create(context.Background(), id, "talk.wav", "/uploads/"+id+"/original.wav")
	require.NoError(t, err)
	return id
}

// kindError carries an explicit failure kind like transcription.Error
type kindError struct {
	kind string
	msg  string
}

func (e *kindError) Error() string       { return e.msg }
func (e *kindError) FailureKind() string { return e.kind }

// scriptedEngine fails the first `failures` calls (all calls when negative)
// and then returns transcript.
type scriptedEngine struct {
	mu         sync.Mutex
	calls      int
	failures   int
	transcript *types.Transcript
	panicWith  any
}

func (e *scriptedEngine) Transcribe(_ context.Context, _ string) (*types.Transcript, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()

	if e.panicWith != nil {
		panic(e.panicWith)
	}
	if e.failures < 0 || call <= e.failures {
		return nil, &kindError{kind: "engine", msg: fmt.Sprintf("boom on call %d", call)}
	}
	return e.transcript, nil
}

func (e *scriptedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func sampleTranscript() *types.Transcript {
	return &types.Transcript{
		FullText: "hello world",
		Segments: []types.Segment{
			{Start: 0, End: 1.2, Text: "hello"},
			{Start: 1.2, End: 2.4, Text: "world"},
		},
		Language:           "en",
		LanguageConfidence: 0.98,
		DurationSeconds:    2.4,
	}
}

// recordingNotifier keeps the status sequence of every job
type recordingNotifier struct {
	mu       sync.Mutex
	statuses map[string][]types.Status
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{statuses: map[string][]types.Status{}}
}

func (n *recordingNotifier) Notify(_ context.Context, job *types.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses[job.ID] = append(n.statuses[job.ID], job.Status)
}

func (n *recordingNotifier) For(id string) []types.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.Status(nil), n.statuses[id]...)
}

type fakeExporter struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (e *fakeExporter) Name() string { return "fake" }

func (e *fakeExporter) Export(_ context.Context, job *types.Job) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job.ID)
	if e.err != nil {
		return "", e.err
	}
	return "mem://" + job.ID, nil
}

func (e *fakeExporter) Exported() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.jobs...)
}

type fakeRemover struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (r *fakeRemover) Remove(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, jobID)
	return r.err
}

var errRemove = errors.New("disk on fire")
