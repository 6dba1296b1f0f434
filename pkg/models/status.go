package models

import "time"

// StatusState mirrors a job's lifecycle from the subscriber's point of view.
type StatusState string

const (
	StatusQueued     StatusState = "queued"
	StatusProcessing StatusState = "processing"
	StatusCompleted  StatusState = "completed"
	StatusFailed     StatusState = "failed"
	StatusCancelled  StatusState = "cancelled"
)

// WorkerProgress is one entry in Status.WorkerProgress, tracking a single
// Phase 2 worker task.
type WorkerProgress struct {
	WorkerID    string     `json:"worker_id"`
	Status      string     `json:"status"` // pending, running, completed, failed
	Progress    int        `json:"progress"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TokenUsage tracks input+output token consumption for one LLM call, and
// TokenUsageByPhase aggregates it per pipeline phase.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.TotalTokens += other.TotalTokens
}

// TokenUsageByPhase is the per-phase token ledger stored on Status.
type TokenUsageByPhase struct {
	Planner     TokenUsage `json:"planner"`
	Workers     TokenUsage `json:"workers"`
	Coordinator TokenUsage `json:"coordinator"`
}

// Status is the per-preflight progress/log/report row observed by
// subscribers. See SPEC_FULL.md §3 and §4.4.
type Status struct {
	PreflightID             string            `json:"preflight_id"`
	JobID                   *string           `json:"job_id,omitempty"`
	UserID                  string            `json:"user_id"`
	Tier                    string            `json:"tier"`
	Status                  StatusState       `json:"status"`
	Progress                int               `json:"progress"`
	Logs                    []string          `json:"logs"`
	CurrentStep             *string           `json:"current_step,omitempty"`
	WorkerProgress          []WorkerProgress  `json:"worker_progress"`
	PlanData                *Plan             `json:"plan_data,omitempty"`
	TokenUsage              TokenUsageByPhase `json:"token_usage"`
	ReportData              *Report           `json:"report_data,omitempty"`
	ErrorMessage            *string           `json:"error_message,omitempty"`
	ErrorDetails            *string           `json:"error_details,omitempty"`
	StartedAt               *time.Time        `json:"started_at,omitempty"`
	CompletedAt             *time.Time        `json:"completed_at,omitempty"`
	FailedAt                *time.Time        `json:"failed_at,omitempty"`
	EstimatedDurationSeconds *int             `json:"estimated_duration_seconds,omitempty"`
	ActualDurationSeconds    *int             `json:"actual_duration_seconds,omitempty"`
}
