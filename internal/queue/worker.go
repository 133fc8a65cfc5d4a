package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Runner executes one job to a terminal state. *Processor implements it.
type Runner interface {
	Run(ctx context.Context, jobID string)
}

// PanicHandler is called with the job id when a run panics
type PanicHandler func(ctx context.Context, jobID string, recovered any)

// PoolStats is a snapshot of pool occupancy
type PoolStats struct {
	Workers int `json:"workers"`
	Active  int `json:"active"`
	Pending int `json:"pending"`
}

// WorkerPool runs at most workerCount jobs at once. Submissions beyond that
// wait in an unbounded FIFO queue.
type WorkerPool struct {
	runner      Runner
	workerCount int
	logger      *slog.Logger
	onPanic     PanicHandler

	mu      sync.Mutex
	cond    *sync.Cond
	pending []string
	active  int
	started bool
	stopped bool

	cancel context.CancelFunc
	group  errgroup.Group
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(runner Runner, workerCount int, logger *slog.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	wp := &WorkerPool{
		runner:      runner,
		workerCount: workerCount,
		logger:      logger,
	}
	wp.cond = sync.NewCond(&wp.mu)
	return wp
}

// OnPanic registers a handler for runs that panic outside the engine call
func (wp *WorkerPool) OnPanic(h PanicHandler) {
	wp.onPanic = h
}

// Start launches the workers. Cancelling ctx stops the pool like Stop.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true

	runCtx, cancel := context.WithCancel(ctx)
	wp.cancel = cancel
	context.AfterFunc(runCtx, wp.halt)

	wp.logger.Info("starting worker pool", "workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		i := i
		wp.group.Go(func() error {
			wp.worker(runCtx, i)
			return nil
		})
	}
}

// Stop stops taking new jobs and waits for running ones. When ctx ends
// first, running jobs are cancelled; jobs still queued stay queued in the
// store and are picked up by recovery on the next start.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return nil
	}
	wp.mu.Unlock()
	wp.halt()

	done := make(chan struct{})
	go func() {
		wp.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Info("worker pool stopped")
	case <-ctx.Done():
		wp.logger.Warn("worker pool shutdown timed out, cancelling running jobs")
		wp.cancel()
		<-done
	}
	wp.cancel()
	return nil
}

// halt wakes every idle worker so it can exit
func (wp *WorkerPool) halt() {
	wp.mu.Lock()
	wp.stopped = true
	wp.cond.Broadcast()
	wp.mu.Unlock()
}

// Submit queues a job for processing and returns immediately
func (wp *WorkerPool) Submit(jobID string) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		wp.logger.Warn("worker pool stopped, job stays queued", "job_id", jobID)
		return
	}
	wp.pending = append(wp.pending, jobID)
	wp.cond.Signal()
	wp.logger.Debug("job submitted", "job_id", jobID, "pending", len(wp.pending))
}

// Stats reports current occupancy
func (wp *WorkerPool) Stats() PoolStats {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return PoolStats{Workers: wp.workerCount, Active: wp.active, Pending: len(wp.pending)}
}

// next blocks until a job is available or the pool stops
func (wp *WorkerPool) next() (string, bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	for len(wp.pending) == 0 && !wp.stopped {
		wp.cond.Wait()
	}
	if wp.stopped {
		return "", false
	}
	jobID := wp.pending[0]
	wp.pending[0] = ""
	wp.pending = wp.pending[1:]
	wp.active++
	return jobID, true
}

func (wp *WorkerPool) done() {
	wp.mu.Lock()
	wp.active--
	wp.mu.Unlock()
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("worker started", "worker", id)
	for {
		jobID, ok := wp.next()
		if !ok {
			wp.logger.Debug("worker exiting", "worker", id)
			return
		}
		wp.run(ctx, id, jobID)
		wp.done()
	}
}

// run executes one job with panic recovery
func (wp *WorkerPool) run(ctx context.Context, workerID int, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("panic processing job",
				"worker", workerID,
				"job_id", jobID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			if wp.onPanic != nil {
				wp.onPanic(ctx, jobID, r)
			}
		}
	}()

	wp.logger.Debug("worker picked job", "worker", workerID, "job_id", jobID)
	wp.runner.Run(ctx, jobID)
}
