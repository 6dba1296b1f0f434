package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// StatusPublisher pushes a job's lifecycle transitions to subscribers
// (satisfied by pkg/statuschannel). Nil disables publishing.
type StatusPublisher interface {
	PublishJobStatus(ctx context.Context, preflightID string, status models.StatusState) error
}

// JobRegistry is the subset of WorkerPool used by Worker for cancellation
// registration.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id          string
	podID       string
	queue       *Queue
	config      *config.QueueConfig
	jobExecutor JobExecutor
	publisher   StatusPublisher
	pool        JobRegistry
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// wake lets an external submitter (pkg/dispatcher) cut a worker's poll
	// sleep short instead of waiting out the remainder of PollInterval.
	// Buffered 1: a pending wake is never lost to a racing send, and
	// redundant wakes while already busy just collapse into one.
	wake chan struct{}

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker. publisher may be nil (status
// fan-out disabled).
func NewWorker(id, podID string, q *Queue, cfg *config.QueueConfig, executor JobExecutor, pool JobRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		queue:        q,
		config:       cfg,
		jobExecutor:  executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		wake:         make(chan struct{}, 1),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// WithStatusPublisher attaches a status publisher after construction.
func (w *Worker) WithStatusPublisher(p StatusPublisher) *Worker {
	w.publisher = p
	return w
}

// Wake cuts short a poll sleep so a newly-submitted job is claimed without
// waiting out the rest of PollInterval. Non-blocking: if a wake is already
// pending the call is a no-op.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-w.wake:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a job, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	activeCount, err := w.queue.TotalActiveCount(ctx)
	if err != nil {
		return fmt.Errorf("checking active jobs: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentJobs {
		return ErrAtCapacity
	}

	job, err := w.queue.Claim(ctx, w.id, w.config.JobTimeout)
	if err != nil {
		return err
	}

	return w.process(ctx, job)
}

// process runs an already-claimed job through to its terminal state:
// registers it for cancellation, renews its lease, executes it, and
// finalizes the result. Shared by the steady per-worker poll loop
// (pollAndProcess) and pkg/dispatcher's ClaimBatch burst path
// (WorkerPool.ProcessClaimed), so both paths get identical lease
// renewal, publish, and finalize semantics.
func (w *Worker) process(ctx context.Context, job *models.Job) error {
	log := slog.With("job_id", job.ID, "preflight_id", job.PreflightID, "worker_id", w.id)
	log.Info("Job claimed")

	w.publishStatus(ctx, job.PreflightID, models.StatusProcessing)

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancelJob := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancelJob()

	w.pool.RegisterJob(job.ID, cancelJob)
	defer w.pool.UnregisterJob(job.ID)

	leaseCtx, cancelLease := context.WithCancel(jobCtx)
	defer cancelLease()
	go w.runLeaseRenewal(leaseCtx, job.ID)

	result := w.jobExecutor.Execute(jobCtx, job)

	if result == nil {
		switch {
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			result = &ExecutionResult{Status: models.JobStatusFailed, Error: fmt.Errorf("job timed out after %v", w.config.JobTimeout)}
		case errors.Is(jobCtx.Err(), context.Canceled):
			result = &ExecutionResult{Status: models.JobStatusCancelled, Error: context.Canceled}
		default:
			result = &ExecutionResult{Status: models.JobStatusFailed, Error: fmt.Errorf("executor returned nil result")}
		}
	}

	cancelLease()

	if err := w.finalizeJob(context.Background(), job, result); err != nil {
		log.Error("Failed to finalize job", "error", err)
		return err
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("Job processing complete", "status", result.Status)
	return nil
}

// finalizeJob writes the terminal or retry state and publishes the status
// transition. Uses a background context since jobCtx may already be
// cancelled/expired by this point.
func (w *Worker) finalizeJob(ctx context.Context, job *models.Job, result *ExecutionResult) error {
	switch result.Status {
	case models.JobStatusCompleted:
		if err := w.queue.Complete(ctx, job.ID); err != nil {
			return err
		}
		w.publishStatus(ctx, job.PreflightID, models.StatusCompleted)
		return nil

	case models.JobStatusCancelled:
		if err := w.queue.Cancel(ctx, job.ID); err != nil {
			slog.Warn("Cancel finalize returned error (job may already be cancelled)", "job_id", job.ID, "error", err)
		}
		w.publishStatus(ctx, job.PreflightID, models.StatusCancelled)
		return nil

	default: // failed
		cause := result.Error
		if cause == nil {
			cause = errors.New("unknown failure")
		}
		if job.Attempts < job.MaxAttempts {
			w.scheduleRetry(job, cause)
			return nil
		}
		if err := w.queue.Fail(ctx, job.ID, cause); err != nil {
			return err
		}
		w.publishStatus(ctx, job.PreflightID, models.StatusFailed)
		return nil
	}
}

// scheduleRetry requeues a failed job after an exponential backoff delay,
// doubling RetryBaseDelay per attempt up to RetryMaxDelay. The job stays
// "processing" (visible as in-flight) until the delay elapses, at which
// point it becomes claimable again.
func (w *Worker) scheduleRetry(job *models.Job, cause error) {
	delay := w.config.RetryBaseDelay * time.Duration(1<<uint(job.Attempts-1))
	if delay > w.config.RetryMaxDelay || delay <= 0 {
		delay = w.config.RetryMaxDelay
	}

	jobID := job.ID
	preflightID := job.PreflightID
	time.AfterFunc(delay, func() {
		if err := w.queue.Retry(context.Background(), jobID, cause); err != nil {
			slog.Error("Failed to requeue job for retry", "job_id", jobID, "error", err)
			return
		}
		w.publishStatus(context.Background(), preflightID, models.StatusQueued)
	})
}

// runLeaseRenewal periodically extends the job's lease so stale-lease
// recovery does not reclaim a job that is still actively being worked.
func (w *Worker) runLeaseRenewal(ctx context.Context, jobID string) {
	interval := w.config.JobTimeout / 3
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.RenewLease(ctx, jobID, w.config.JobTimeout); err != nil {
				slog.Warn("Lease renewal failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (w *Worker) publishStatus(ctx context.Context, preflightID string, status models.StatusState) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.PublishJobStatus(ctx, preflightID, status); err != nil {
		slog.Warn("Failed to publish job status", "preflight_id", preflightID, "status", status, "error", err)
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
