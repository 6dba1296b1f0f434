package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/google/uuid"
)

// Queue is the durable job queue, backed by the jobs table. All claim
// operations use SELECT ... FOR UPDATE SKIP LOCKED so multiple pods can
// poll the same table without contending on the same row.
type Queue struct {
	db *sql.DB
}

// NewQueue wraps a pooled *sql.DB.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a new pending job for a preflight. It fails with
// ErrActiveJobExists if the preflight already has a pending or processing
// job, enforced by the partial unique index on jobs(preflight_id).
func (q *Queue) Enqueue(ctx context.Context, preflightID, tier string, userID *string, priority, maxAttempts int) (*models.Job, error) {
	job := &models.Job{
		ID:          uuid.NewString(),
		PreflightID: preflightID,
		UserID:      userID,
		Tier:        tier,
		Status:      models.JobStatusPending,
		Priority:    priority,
		MaxAttempts: maxAttempts,
	}

	err := q.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, preflight_id, tier, user_id, status, priority, max_attempts)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		RETURNING created_at, updated_at`,
		job.ID, job.PreflightID, job.Tier, job.UserID, job.Priority, job.MaxAttempts,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("queue.Enqueue: " + ErrActiveJobExists.Error())
		}
		return nil, apperrors.Persistence("queue.Enqueue", fmt.Errorf("inserting job: %w", err))
	}

	return job, nil
}

// Claim atomically claims the next pending job with the highest priority
// (FIFO within a priority tier), sets it to processing, and leases it to
// workerID for leaseDuration.
func (q *Queue) Claim(ctx context.Context, workerID string, leaseDuration time.Duration) (*models.Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Persistence("queue.Claim", fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	job, err := scanJob(tx.QueryRowContext(ctx, `
		SELECT id, preflight_id, tier, user_id, status, priority, attempts, max_attempts,
		       locked_by, locked_at, lease_expires_at, last_error,
		       created_at, started_at, completed_at, updated_at
		FROM jobs
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoJobsAvailable
		}
		return nil, apperrors.Persistence("queue.Claim", fmt.Errorf("querying pending job: %w", err))
	}

	now := time.Now()
	leaseExpires := now.Add(leaseDuration)
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'processing', locked_by = $1, locked_at = $2, lease_expires_at = $3,
		    started_at = COALESCE(started_at, $2), attempts = attempts + 1, updated_at = $2
		WHERE id = $4`,
		workerID, now, leaseExpires, job.ID,
	)
	if err != nil {
		return nil, apperrors.Persistence("queue.Claim", fmt.Errorf("claiming job: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Persistence("queue.Claim", fmt.Errorf("committing claim: %w", err))
	}

	job.Status = models.JobStatusProcessing
	job.LockedBy = &workerID
	job.LockedAt = &now
	job.LeaseExpiresAt = &leaseExpires
	job.Attempts++
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now

	return job, nil
}

// ClaimBatch claims up to n pending jobs in one transaction, using the same
// priority/FIFO selector and FOR UPDATE SKIP LOCKED semantics as Claim. Used
// by the dispatcher (C8) to pull a batch of work per tick instead of one
// job at a time.
func (q *Queue) ClaimBatch(ctx context.Context, workerID string, n int, leaseDuration time.Duration) ([]*models.Job, error) {
	if n <= 0 {
		return nil, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Persistence("queue.ClaimBatch", fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, preflight_id, tier, user_id, status, priority, attempts, max_attempts,
		       locked_by, locked_at, lease_expires_at, last_error,
		       created_at, started_at, completed_at, updated_at
		FROM jobs
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, n)
	if err != nil {
		return nil, apperrors.Persistence("queue.ClaimBatch", fmt.Errorf("querying pending jobs: %w", err))
	}

	var jobs []*models.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			rows.Close()
			return nil, apperrors.Persistence("queue.ClaimBatch", scanErr)
		}
		jobs = append(jobs, job)
	}
	closeErr := rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("queue.ClaimBatch", err)
	}
	if closeErr != nil {
		return nil, apperrors.Persistence("queue.ClaimBatch", closeErr)
	}

	if len(jobs) == 0 {
		return nil, ErrNoJobsAvailable
	}

	now := time.Now()
	leaseExpires := now.Add(leaseDuration)
	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'processing', locked_by = $1, locked_at = $2, lease_expires_at = $3,
		    started_at = COALESCE(started_at, $2), attempts = attempts + 1, updated_at = $2
		WHERE id = ANY($4)`,
		workerID, now, leaseExpires, ids,
	)
	if err != nil {
		return nil, apperrors.Persistence("queue.ClaimBatch", fmt.Errorf("claiming jobs: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Persistence("queue.ClaimBatch", fmt.Errorf("committing claim: %w", err))
	}

	for _, job := range jobs {
		job.Status = models.JobStatusProcessing
		job.LockedBy = &workerID
		job.LockedAt = &now
		job.LeaseExpiresAt = &leaseExpires
		job.Attempts++
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		job.UpdatedAt = now
	}

	return jobs, nil
}

// RenewLease pushes a claimed job's lease forward, acting as a heartbeat.
func (q *Queue) RenewLease(ctx context.Context, jobID string, leaseDuration time.Duration) error {
	now := time.Now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET lease_expires_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'processing'`,
		now.Add(leaseDuration), jobID,
	)
	if err != nil {
		return apperrors.Persistence("queue.RenewLease", fmt.Errorf("renewing lease: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Persistence("queue.RenewLease", err)
	}
	if n == 0 {
		return apperrors.NotFound(fmt.Sprintf("queue.RenewLease: job %s not processing", jobID))
	}
	return nil
}

// Complete marks a job as completed.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	return q.setTerminal(ctx, jobID, models.JobStatusCompleted, nil)
}

// Fail marks a job as failed, recording the error. If attempts remain
// (attempts < max_attempts), the caller should instead call Retry.
func (q *Queue) Fail(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	return q.setTerminal(ctx, jobID, models.JobStatusFailed, &msg)
}

// Retry resets a failed-or-leased job back to pending so it can be
// reclaimed, after an exponential backoff delay has been honored by the
// caller.
func (q *Queue) Retry(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	now := time.Now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', locked_by = NULL, locked_at = NULL, lease_expires_at = NULL,
		    last_error = $1, updated_at = $2
		WHERE id = $3`,
		msg, now, jobID,
	)
	if err != nil {
		return apperrors.Persistence("queue.Retry", fmt.Errorf("retrying job: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Persistence("queue.Retry", err)
	}
	if n == 0 {
		return apperrors.NotFound(fmt.Sprintf("queue.Retry: job %s not found", jobID))
	}
	return nil
}

// Cancel marks a pending or processing job as cancelled. Cancellation of a
// processing job is cooperative: the worker pool's cancel registry is what
// actually stops the in-flight executor; this just records the terminal
// state for jobs not (or no longer) owned by a live worker.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	now := time.Now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', completed_at = $1, updated_at = $1
		WHERE id = $2 AND status IN ('pending', 'processing')`,
		now, jobID,
	)
	if err != nil {
		return apperrors.Persistence("queue.Cancel", fmt.Errorf("cancelling job: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Persistence("queue.Cancel", err)
	}
	if n == 0 {
		return apperrors.NotFound(fmt.Sprintf("queue.Cancel: job %s not cancellable", jobID))
	}
	return nil
}

func (q *Queue) setTerminal(ctx context.Context, jobID string, status models.JobStatus, lastError *string) error {
	now := time.Now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, last_error = $2, completed_at = $3, updated_at = $3
		WHERE id = $4`,
		status, lastError, now, jobID,
	)
	if err != nil {
		return apperrors.Persistence("queue.setTerminal", fmt.Errorf("updating job status: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Persistence("queue.setTerminal", err)
	}
	if n == 0 {
		return apperrors.NotFound(fmt.Sprintf("queue.setTerminal: job %s not found", jobID))
	}
	return nil
}

// Get fetches a single job by ID.
func (q *Queue) Get(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := scanJob(q.db.QueryRowContext(ctx, `
		SELECT id, preflight_id, tier, user_id, status, priority, attempts, max_attempts,
		       locked_by, locked_at, lease_expires_at, last_error,
		       created_at, started_at, completed_at, updated_at
		FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound(fmt.Sprintf("queue.Get: job %s not found", jobID))
		}
		return nil, apperrors.Persistence("queue.Get", err)
	}
	return job, nil
}

// ActiveForUser returns the pending/processing jobs belonging to userID,
// joined with their preflight's repo URL.
func (q *Queue) ActiveForUser(ctx context.Context, userID string) ([]models.ActiveJobSummary, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT j.preflight_id, p.repo_url, j.tier, j.status,
		       COALESCE(s.progress, 0), j.created_at
		FROM jobs j
		JOIN preflights p ON p.id = j.preflight_id
		LEFT JOIN statuses s ON s.preflight_id = j.preflight_id
		WHERE j.user_id = $1 AND j.status IN ('pending', 'processing')
		ORDER BY j.created_at DESC`, userID)
	if err != nil {
		return nil, apperrors.Persistence("queue.ActiveForUser", err)
	}
	defer rows.Close()

	var out []models.ActiveJobSummary
	for rows.Next() {
		var s models.ActiveJobSummary
		if err := rows.Scan(&s.PreflightID, &s.RepoURL, &s.Tier, &s.Status, &s.Progress, &s.CreatedAt); err != nil {
			return nil, apperrors.Persistence("queue.ActiveForUser", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Stats returns aggregate queue metrics for health/dashboard reporting.
func (q *Queue) Stats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= date_trunc('day', now())),
			COUNT(*) FILTER (WHERE status = 'failed' AND completed_at >= date_trunc('day', now())),
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
				FILTER (WHERE status = 'completed' AND started_at IS NOT NULL), 0),
			COALESCE(MAX(EXTRACT(EPOCH FROM (now() - created_at)) / 60.0)
				FILTER (WHERE status = 'pending'), 0)
		FROM jobs`,
	).Scan(&stats.Pending, &stats.Processing, &stats.CompletedToday, &stats.FailedToday,
		&stats.AvgProcessingSeconds, &stats.OldestPendingMinutes)
	if err != nil {
		return models.QueueStats{}, apperrors.Persistence("queue.Stats", err)
	}
	return stats, nil
}

// Depth returns the count of pending jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, apperrors.Persistence("queue.Depth", err)
	}
	return n, nil
}

// ActiveCount returns the count of currently processing jobs, optionally
// scoped to a single worker pod (ownerPrefix matches locked_by LIKE
// 'ownerPrefix%').
func (q *Queue) ActiveCount(ctx context.Context, podID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE status = 'processing' AND locked_by LIKE $1`,
		podID+"%",
	).Scan(&n)
	if err != nil {
		return 0, apperrors.Persistence("queue.ActiveCount", err)
	}
	return n, nil
}

// TotalActiveCount returns the count of all currently processing jobs
// across every pod, used for the global MaxConcurrentJobs capacity check.
func (q *Queue) TotalActiveCount(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'processing'`).Scan(&n); err != nil {
		return 0, apperrors.Persistence("queue.TotalActiveCount", err)
	}
	return n, nil
}

// RecoverStale finds jobs whose lease has expired and either retries them
// (if attempts remain) or fails them terminally (if exhausted).
func (q *Queue) RecoverStale(ctx context.Context, threshold time.Time) (recovered, failed int, err error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, attempts, max_attempts, locked_by
		FROM jobs
		WHERE status = 'processing' AND lease_expires_at IS NOT NULL AND lease_expires_at < $1`,
		threshold,
	)
	if err != nil {
		return 0, 0, apperrors.Persistence("queue.RecoverStale", err)
	}
	type stale struct {
		id                     string
		attempts, maxAttempts  int
		lockedBy               sql.NullString
	}
	var orphans []stale
	for rows.Next() {
		var s stale
		if scanErr := rows.Scan(&s.id, &s.attempts, &s.maxAttempts, &s.lockedBy); scanErr != nil {
			rows.Close()
			return 0, 0, apperrors.Persistence("queue.RecoverStale", scanErr)
		}
		orphans = append(orphans, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, apperrors.Persistence("queue.RecoverStale", err)
	}

	for _, s := range orphans {
		podID := "unknown"
		if s.lockedBy.Valid {
			podID = s.lockedBy.String
		}
		cause := fmt.Errorf("lease expired: no heartbeat from worker %s", podID)
		if s.attempts >= s.maxAttempts {
			if err := q.Fail(ctx, s.id, cause); err != nil {
				return recovered, failed, err
			}
			failed++
		} else {
			if err := q.Retry(ctx, s.id, cause); err != nil {
				return recovered, failed, err
			}
			recovered++
		}
	}

	return recovered, failed, nil
}

// resetStuckProcessingForPod resets processing jobs locked by podID back to
// pending. Called once at startup to recover jobs orphaned by a prior crash
// of this same pod (its locked_by identity is stable across restarts only
// if the pod ID is, so this matches jobs locked by a prefix of podID).
func resetStuckProcessingForPod(ctx context.Context, db *sql.DB, podID string) (int, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', locked_by = NULL, locked_at = NULL, lease_expires_at = NULL,
		    last_error = $1, updated_at = now()
		WHERE status = 'processing' AND locked_by LIKE $2`,
		fmt.Sprintf("pod %s restarted while job was processing", podID), podID+"%",
	)
	if err != nil {
		return 0, apperrors.Persistence("queue.resetStuckProcessingForPod", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Persistence("queue.resetStuckProcessingForPod", err)
	}
	return int(n), nil
}

// ResetStuckPending zeroes attempts/locked_by on pending jobs that have sat
// unclaimed longer than staleAfter despite having remaining attempts,
// forcing them back to the front of the claim order. Distinct from
// RecoverStale, which handles jobs stuck in processing with an expired
// lease; this handles jobs that were never successfully claimed at all
// (e.g. a dispatcher outage).
func (q *Queue) ResetStuckPending(ctx context.Context, staleAfter time.Duration) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET attempts = 0, locked_by = NULL, locked_at = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE status = 'pending' AND attempts < max_attempts AND created_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(staleAfter.Seconds())),
	)
	if err != nil {
		return 0, apperrors.Persistence("queue.ResetStuckPending", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Persistence("queue.ResetStuckPending", err)
	}
	return int(n), nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var userID, lockedBy, lastError sql.NullString
	var lockedAt, leaseExpiresAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.PreflightID, &job.Tier, &userID, &job.Status, &job.Priority,
		&job.Attempts, &job.MaxAttempts, &lockedBy, &lockedAt, &leaseExpiresAt, &lastError,
		&job.CreatedAt, &startedAt, &completedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		job.UserID = &userID.String
	}
	if lockedBy.Valid {
		job.LockedBy = &lockedBy.String
	}
	if lockedAt.Valid {
		job.LockedAt = &lockedAt.Time
	}
	if leaseExpiresAt.Valid {
		job.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), which the one-active-job-per-preflight partial index
// raises on a duplicate Enqueue.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
