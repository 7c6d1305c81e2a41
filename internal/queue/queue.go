// Package queue provides named in-process job queues with per-job-ID
// deduplication and a fixed worker pool.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/entity"
)

// Reasons an Add is rejected outright, as opposed to deduplicated.
var (
	ErrFull   = errors.New("queue full")
	ErrClosed = errors.New("queue closed")
)

// Job is one unit of work keyed by a stable ID. Payload carries
// everything the handler needs.
type Job struct {
	ID          string
	Payload     entity.QueuePayload
	SubmittedAt time.Time
}

// AddOptions controls enqueue behavior.
type AddOptions struct {
	// JobID deduplicates: a second Add with the same ID while the first
	// is still parked is a no-op unless Force is set.
	JobID string
	// Force replaces a parked job's payload, or parks a fresh run behind
	// a currently executing one.
	Force bool
}

// Handler executes one job. Errors are logged, not retried; retry is the
// caller's decision via a new Add.
type Handler func(ctx context.Context, job Job) error

type entryState int

const (
	stateParked entryState = iota
	stateRunning
)

type entry struct {
	job   Job
	state entryState
	// again is set when a forced Add arrives while the job is running;
	// the worker re-parks the entry with this payload when it finishes.
	again *Job
}

type Queue struct {
	name    string
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration
	maxSize int

	mu      sync.Mutex
	cond    *sync.Cond
	fifo    []string
	entries map[string]*entry
	closed  bool

	wg   sync.WaitGroup
	once sync.Once
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func New(name string, handler Handler, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		name:    name,
		handler: handler,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		maxSize: 1024,
		entries: make(map[string]*entry),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

// Add enqueues a job. The bool reports whether a run will happen; false
// with a nil error means deduplication dropped the job because an
// equivalent run is already pending. A full or shutting-down queue is an
// InfraError: the caller must not treat the job as queued.
func (q *Queue) Add(_ context.Context, payload entity.QueuePayload, opts AddOptions) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "queue", q.name, "job_id", opts.JobID)
		return false, &common.InfraError{Component: "queue", Cause: ErrClosed}
	}

	job := Job{ID: opts.JobID, Payload: payload, SubmittedAt: time.Now()}

	if e, ok := q.entries[opts.JobID]; ok {
		switch e.state {
		case stateParked:
			if !opts.Force {
				q.logger.Info("duplicate job dropped", "queue", q.name, "job_id", opts.JobID)
				return false, nil
			}
			e.job = job
			q.logger.Info("parked job replaced", "queue", q.name, "job_id", opts.JobID)
			return true, nil
		case stateRunning:
			if !opts.Force {
				q.logger.Info("duplicate of running job dropped", "queue", q.name, "job_id", opts.JobID)
				return false, nil
			}
			// Re-park behind the current run; generation fencing makes any
			// writes from the superseded run harmless.
			e.again = &job
			q.logger.Info("rerun parked behind running job", "queue", q.name, "job_id", opts.JobID)
			return true, nil
		}
	}

	if len(q.fifo) >= q.maxSize {
		q.logger.Warn("queue full, dropping job", "queue", q.name, "job_id", opts.JobID)
		return false, &common.InfraError{Component: "queue", Cause: ErrFull}
	}

	q.entries[opts.JobID] = &entry{job: job, state: stateParked}
	q.fifo = append(q.fifo, opts.JobID)
	q.cond.Signal()
	q.logger.Info("job queued", "queue", q.name, "job_id", opts.JobID, "force", opts.Force)
	return true, nil
}

// Len reports the number of parked jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "queue", q.name, "worker_id", workerID)
				q.run(workerID)
				q.logger.Info("worker stopped", "queue", q.name, "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) run(workerID int) {
	for {
		q.mu.Lock()
		for len(q.fifo) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.fifo) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		id := q.fifo[0]
		q.fifo = q.fifo[1:]
		e := q.entries[id]
		e.state = stateRunning
		job := e.job
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.handler(ctx, job)
		cancel()

		if err != nil {
			q.logger.Error("job failed", "queue", q.name, "worker_id", workerID, "job_id", job.ID, "error", err)
		} else {
			q.logger.Info("job completed", "queue", q.name, "worker_id", workerID, "job_id", job.ID)
		}

		q.mu.Lock()
		if e.again != nil && !q.closed {
			e.job = *e.again
			e.again = nil
			e.state = stateParked
			q.fifo = append(q.fifo, id)
			q.cond.Signal()
		} else {
			delete(q.entries, id)
		}
		q.mu.Unlock()
	}
}

// Shutdown stops accepting jobs and waits for parked jobs to drain or
// the context to expire.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context", "queue", q.name)
	case <-done:
		q.logger.Info("queue drained, shutdown complete", "queue", q.name)
	}
}
