package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	jobTracer          = otel.Tracer("harvestsync/scheduler")
	jobMeter           = otel.Meter("harvestsync/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Jobs executed by kind and status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
	jobSkipped, _      = jobMeter.Int64Counter("scheduler.job.skipped", metric.WithDescription("Jobs skipped because the same subject was still queued or running"))
)

var (
	ErrPoolClosed  = errors.New("worker pool is shut down")
	ErrQueueFull   = errors.New("job queue full")
	ErrJobInFlight = errors.New("job for this subject already queued or running")
)

const defaultJobTimeout = 10 * time.Minute

// WorkerPool runs submitted jobs on a fixed number of goroutines. At most
// one job per kind and subject is queued or running at a time.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobTimeout  time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}
}

// NewWorkerPool creates a worker pool. jobDelay pauses a worker after each
// job; jobTimeout bounds one execution (defaultJobTimeout when zero).
func NewWorkerPool(workerCount int, jobDelay, jobTimeout time.Duration, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	if workerCount < 1 {
		workerCount = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	return &WorkerPool{
		workerCount: workerCount,
		jobDelay:    jobDelay,
		jobTimeout:  jobTimeout,
		jobs:        make(chan Job, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		inflight:    make(map[string]struct{}),
	}
}

// jobKey identifies a job for in-flight deduplication.
func jobKey(job Job) string {
	return fmt.Sprintf("%T/%s", job, job.Subject())
}

// jobKind is the metric label for a job: its type without the package.
func jobKind(job Job) string {
	kind := fmt.Sprintf("%T", job)
	for i := len(kind) - 1; i >= 0; i-- {
		if kind[i] == '.' {
			return kind[i+1:]
		}
	}
	return kind
}

func (wp *WorkerPool) Start() {
	log.Printf("Starting worker pool with %d workers, %v delay between jobs", wp.workerCount, wp.jobDelay)

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return

		case job, ok := <-wp.jobs:
			if !ok {
				return
			}

			wp.processJob(id, job)
			wp.release(job)

			if wp.jobDelay > 0 {
				select {
				case <-time.After(wp.jobDelay):
				case <-wp.ctx.Done():
					return
				}
			}
		}
	}
}

func (wp *WorkerPool) release(job Job) {
	wp.mu.Lock()
	delete(wp.inflight, jobKey(job))
	wp.mu.Unlock()
}

func (wp *WorkerPool) processJob(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	kind := jobKind(job)
	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.kind", kind),
			attribute.String("job.subject", job.Subject()),
		),
	)
	defer span.End()

	start := time.Now()
	err := job.Execute(ctx)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("Worker %d: %s failed after %s: %v", workerID, job.Description(), elapsed.Round(time.Millisecond), err)
	} else {
		log.Printf("Worker %d: %s completed in %s", workerID, job.Description(), elapsed.Round(time.Millisecond))
	}

	attrs := metric.WithAttributes(attribute.String("job.kind", kind), attribute.String("status", status))
	jobTotal.Add(ctx, 1, attrs)
	jobDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// Submit queues a job without blocking. It fails when the pool is shut
// down, when the queue is full, or when a job of the same kind for the
// same subject has not finished yet.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed {
		return ErrPoolClosed
	}

	key := jobKey(job)
	if _, busy := wp.inflight[key]; busy {
		jobSkipped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("job.kind", jobKind(job))))
		return fmt.Errorf("%w: %s", ErrJobInFlight, job.Subject())
	}

	select {
	case wp.jobs <- job:
		wp.inflight[key] = struct{}{}
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		return fmt.Errorf("%w, dropping %s", ErrQueueFull, job.Description())
	}
}

// SubmitBatch submits every job and returns how many were queued.
func (wp *WorkerPool) SubmitBatch(jobs []Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			log.Printf("Not submitting %s: %v", job.Description(), err)
			continue
		}
		submitted++
	}
	log.Printf("Submitted %d/%d jobs to worker pool", submitted, len(jobs))
	return submitted
}

// ShutdownWithTimeout stops intake, waits for queued and running jobs, and
// cancels whatever is still running at the timeout.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	log.Printf("Worker pool: draining with %v timeout", timeout)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Worker pool: all workers finished")
	case <-time.After(timeout):
		log.Println("Worker pool: timeout reached, cancelling running jobs")
	}
	wp.cancel()
}
