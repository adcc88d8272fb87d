// Package deferred runs post-reply work on a bounded worker pool.
//
// Jobs never inherit a tenant binding from the dispatch that scheduled them:
// each job carries its tenant id and is bound again right before it runs.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

var (
	ErrQueueFull   = errors.New("deferred: queue is full")
	ErrQueueClosed = errors.New("deferred: queue is shut down")
)

const defaultJobTimeout = 30 * time.Second

// Job is one unit of background work.
type Job struct {
	ID        string
	Name      string
	TenantID  string // empty = run unbound
	Run       func(ctx context.Context) error
	CreatedAt time.Time
}

// Scheduler accepts jobs without blocking.
type Scheduler interface {
	Submit(job Job) error
}

// Queue is a bounded channel drained by a fixed set of workers.
type Queue struct {
	workers    int
	jobTimeout time.Duration
	jobs       chan Job
	startOnce  sync.Once
	inflight   sync.WaitGroup

	mu     sync.RWMutex // guards closed against a Submit racing the drain
	closed bool
}

// New creates a queue with the given worker count and capacity.
func New(workers, size int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = workers * 50
	}
	return &Queue{
		workers:    workers,
		jobTimeout: defaultJobTimeout,
		jobs:       make(chan Job, size),
	}
}

// WithJobTimeout overrides the per-job timeout. Call before Start.
func (q *Queue) WithJobTimeout(d time.Duration) *Queue {
	if d > 0 {
		q.jobTimeout = d
	}
	return q
}

// Submit queues job, or returns ErrQueueFull or ErrQueueClosed.
func (q *Queue) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("deferred: job %q has no Run func", job.Name)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.inflight.Add(1)
	select {
	case q.jobs <- job:
		slog.Debug("deferred job queued", "job", job.Name, "job_id", job.ID, "tenant_id", job.TenantID)
		return nil
	default:
		q.inflight.Done()
		slog.Warn("deferred queue full, job dropped", "job", job.Name, "tenant_id", job.TenantID)
		return ErrQueueFull
	}
}

// Start runs the workers until ctx is done. Jobs still queued at shutdown are
// dropped and later submits return ErrQueueClosed.
func (q *Queue) Start(ctx context.Context) error {
	var workers sync.WaitGroup
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			workers.Add(1)
			go func(workerID int) {
				defer workers.Done()
				q.worker(ctx, workerID)
			}(i + 1)
		}
	})

	<-ctx.Done()
	workers.Wait()
	q.drain()
	return nil
}

func (q *Queue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for {
		select {
		case job := <-q.jobs:
			slog.Warn("deferred job dropped at shutdown", "job", job.Name, "job_id", job.ID, "tenant_id", job.TenantID)
			q.inflight.Done()
		default:
			return
		}
	}
}

// Wait blocks until every submitted job has finished or been dropped at shutdown.
func (q *Queue) Wait() {
	q.inflight.Wait()
}

func (q *Queue) worker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.run(ctx, workerID, job)
			q.inflight.Done()
		}
	}
}

func (q *Queue) run(ctx context.Context, workerID int, job Job) {
	start := time.Now()
	err := Execute(ctx, job, q.jobTimeout)
	if err != nil {
		slog.Warn("deferred job failed",
			"job", job.Name, "job_id", job.ID, "tenant_id", job.TenantID,
			"worker_id", workerID, "error", err)
		return
	}
	slog.Debug("deferred job done", "job", job.Name, "tenant_id", job.TenantID, "duration", time.Since(start))
}

// Execute runs job once with its tenant bound, a timeout, and panic recovery.
func Execute(ctx context.Context, job Job, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if job.TenantID != "" {
		var scope *tenant.Scope
		ctx, scope = tenant.Bind(ctx, job.TenantID)
		defer scope.Release()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return job.Run(ctx)
}

// Inline runs jobs synchronously on Submit. Only for tests and tools where
// ordering matters more than latency.
type Inline struct{}

func (Inline) Submit(job Job) error {
	if err := Execute(context.Background(), job, defaultJobTimeout); err != nil {
		slog.Warn("deferred job failed", "job", job.Name, "tenant_id", job.TenantID, "error", err)
	}
	return nil
}
