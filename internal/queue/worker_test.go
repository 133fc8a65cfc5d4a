package queue

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// blockingEngine blocks every call until release is closed and records the
// peak number of concurrent calls.
type blockingEngine struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func (e *blockingEngine) Transcribe(ctx context.Context, _ string) (*types.Transcript, error) {
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-e.release:
		return sampleTranscript(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func countByStatus(t *testing.T, store storage.JobStore) map[types.Status]int {
	t.Helper()
	jobs, err := store.List(context.Background(), nil)
	require.NoError(t, err)
	counts := map[types.Status]int{}
	for _, j := range jobs {
		counts[j.Status]++
	}
	return counts
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	const workers, jobs = 2, 5

	store := newTestStore(t)
	engine := &blockingEngine{release: make(chan struct{})}
	processor := NewProcessor(store, engine, instantRetries, discardLogger())
	pool := NewWorkerPool(processor, workers, discardLogger())
	service := NewService(store, pool, nil, discardLogger())

	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})

	for i := 0; i < jobs; i++ {
		_, err := service.Submit(context.Background(), createID(i), "a.wav", "/a.wav")
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return countByStatus(t, store)[types.StatusProcessing] == workers
	}, 5*time.Second, 10*time.Millisecond)

	// Give the pool a chance to over-schedule if it were going to
	time.Sleep(100 * time.Millisecond)
	counts := countByStatus(t, store)
	assert.Equal(t, workers, counts[types.StatusProcessing])
	assert.Equal(t, jobs-workers, counts[types.StatusQueued])
	assert.Equal(t, PoolStats{Workers: workers, Active: workers, Pending: jobs - workers}, service.Stats())

	close(engine.release)

	require.Eventually(t, func() bool {
		return countByStatus(t, store)[types.StatusCompleted] == jobs
	}, 5*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, engine.peak.Load(), int32(workers))
}

func TestWorkerPoolFIFO(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	runner := runnerFunc(func(_ context.Context, jobID string) {
		mu.Lock()
		order = append(order, jobID)
		mu.Unlock()
	})

	pool := NewWorkerPool(runner, 1, discardLogger())
	for _, id := range []string{"a", "b", "c"} {
		pool.Submit(id)
	}
	pool.Start(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	require.NoError(t, pool.Stop(context.Background()))
}

func TestWorkerPoolPanicMarksJobFailed(t *testing.T) {
	store := newTestStore(t)
	runner := runnerFunc(func(context.Context, string) { panic("worker bug") })
	pool := NewWorkerPool(runner, 1, discardLogger())
	service := NewService(store, pool, nil, discardLogger())
	pool.Start(context.Background())
	defer pool.Stop(context.Background())

	job, err := service.Submit(context.Background(), "job-panic", "a.wav", "/a.wav")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), job.ID)
		return err == nil && got.Status == types.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.True(t, strings.HasPrefix(*got.Error, "panic: worker bug"))

	// The worker survives the panic
	assert.Equal(t, 1, service.Stats().Workers)
}

func TestWorkerPoolStopLeavesPendingJobs(t *testing.T) {
	var ran atomic.Int32
	pool := NewWorkerPool(runnerFunc(func(context.Context, string) { ran.Add(1) }), 1, discardLogger())
	pool.Start(context.Background())
	require.NoError(t, pool.Stop(context.Background()))

	pool.Submit("late")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}

func TestWorkerPoolStopCancelsRunningJobsAfterTimeout(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ string) {
		close(started)
		<-ctx.Done()
		close(finished)
	})
	pool := NewWorkerPool(runner, 1, discardLogger())
	pool.Start(context.Background())
	pool.Submit("slow")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))

	select {
	case <-finished:
	default:
		t.Fatal("running job was not cancelled")
	}
}

type runnerFunc func(ctx context.Context, jobID string)

func (f runnerFunc) Run(ctx context.Context, jobID string) { f(ctx, jobID) }

func createID(i int) string {
	return "job-" + string(rune('a'+i))
}
