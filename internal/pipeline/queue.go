package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Submit when the buffer is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// ErrQueueStopped is returned by Submit after Stop.
var ErrQueueStopped = errors.New("job queue is stopped")

type QueueConfig struct {
	Workers int
	Size    int
	JobTTL  time.Duration
}

// Queue runs submitted analysis jobs on a fixed set of workers.
type Queue struct {
	jobs   *JobStore
	queue  chan *Job
	driver *Driver
	guard  *Guard
	log    *slog.Logger
	cfg    QueueConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex // guards stopped and sends on queue
	stopped bool
}

// NewQueue creates a queue over driver. guard may be nil to disable the
// claim and cache check.
func NewQueue(driver *Driver, guard *Guard, cfg QueueConfig, log *slog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Size <= 0 {
		cfg.Size = 50
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.Size),
		driver: driver,
		guard:  guard,
		log:    log,
		cfg:    cfg,
	}
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Start launches worker goroutines.
func (q *Queue) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for range q.cfg.Workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-q.queue:
					if !ok {
						return
					}
					q.process(workerCtx, job)
				}
			}
		}()
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				q.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels in-flight jobs and waits for the workers to exit. Later
// submissions fail with ErrQueueStopped.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.queue)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Submit queues a job for processing.
func (q *Queue) Submit(job *Job) error {
	q.jobs.Put(job)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		job.SetStatus(StatusFailed, "queue_stopped")
		return ErrQueueStopped
	}
	select {
	case q.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("%w (%d)", ErrQueueFull, q.cfg.Size)
	}
}

// GetJob returns a job by ID.
func (q *Queue) GetJob(id string) *Job {
	return q.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (q *Queue) QueueDepth() int {
	return len(q.queue)
}

func (q *Queue) process(ctx context.Context, job *Job) {
	log := q.log.With("job_id", job.ID, "filename", job.Filename)
	run := q.driver.Runner(q.guard, job.Force, func(string) Observer { return job })
	out := runIsolated(ctx, Document{Filename: job.Filename, Data: job.FileData()}, run)
	job.releaseFileData()

	if out.Record != nil {
		job.SetRecord(out.Record.ID)
	}

	var delErr *DeliveryError
	switch {
	case out.Err != nil && errors.As(out.Err, &delErr) && out.Record != nil:
		log.Warn("analysis stored, delivery failed", "record_id", out.Record.ID, "error", out.Err)
		job.AddError(out.Err.Error())
		job.SetStatus(StatusPartial, "delivery_failed")
	case out.Err != nil:
		log.Error("analysis failed", "error", out.Err)
		job.AddError(out.Err.Error())
		job.SetStatus(StatusFailed, job.Snapshot().Phase)
	case out.Cached:
		job.SetStatus(StatusCached, "cached")
	case job.Snapshot().Progress.PagesFailed > 0:
		job.SetStatus(StatusPartial, "done")
	default:
		job.SetStatus(StatusCompleted, "done")
	}
}
