package models

import (
	"time"
)

// JobStatus is the lifecycle state of a queued audit job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Job is one scheduled execution of one tier against one preflight.
// See SPEC_FULL.md §3 and §4.3.
type Job struct {
	ID             string     `json:"id"`
	PreflightID    string     `json:"preflight_id"`
	UserID         *string    `json:"user_id,omitempty"`
	Tier           string     `json:"tier"`
	Status         JobStatus  `json:"status"`
	Priority       int        `json:"priority"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	LockedBy       *string    `json:"locked_by,omitempty"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsStale reports whether a processing job's lease has expired as of now.
func (j *Job) IsStale(now time.Time) bool {
	return j.Status == JobStatusProcessing && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}

// IsTerminal reports whether the job has reached a terminal lifecycle state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ActiveJobSummary is the read-only projection returned by ActiveForUser.
type ActiveJobSummary struct {
	PreflightID string    `json:"preflight_id"`
	RepoURL     string    `json:"repo_url"`
	Tier        string    `json:"tier"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
}

// QueueStats is the aggregate view returned by Queue.Stats().
type QueueStats struct {
	Pending               int     `json:"pending"`
	Processing            int     `json:"processing"`
	CompletedToday        int     `json:"completed_today"`
	FailedToday           int     `json:"failed_today"`
	AvgProcessingSeconds  float64 `json:"avg_processing_seconds"`
	OldestPendingMinutes  float64 `json:"oldest_pending_minutes"`
}
