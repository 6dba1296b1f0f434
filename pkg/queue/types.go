// Package queue provides durable job queue management: claiming, leasing,
// stale-lease recovery, and dispatch of audit jobs to the pipeline.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no pending jobs are in the queue.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the global concurrent job limit has been reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrActiveJobExists indicates the preflight already has a pending or
	// processing job (the one-active-job-per-preflight invariant).
	ErrActiveJobExists = errors.New("an active job already exists for this preflight")
)

// JobExecutor is the interface for job processing.
//
// The executor owns the entire job lifecycle internally: it runs the
// three-phase pipeline (planner, workers, coordinator) and writes results
// progressively during execution, not at the end. The worker only handles
// claiming, heartbeat (lease renewal), terminal status update, and
// cooperative cancellation.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) *ExecutionResult
}

// ExecutionResult is lightweight — just the terminal state. All
// intermediate state (Status rows, reasoning steps) was already written to
// the database by the executor during processing.
type ExecutionResult struct {
	Status models.JobStatus // completed, failed, cancelled
	Error  error            // error details (if failed)
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveJobs       int            `json:"active_jobs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"` // "idle" or "working"
	CurrentJobID    string    `json:"current_job_id,omitempty"`
	JobsProcessed   int       `json:"jobs_processed"`
	LastActivity    time.Time `json:"last_activity"`
}
