// Package statuschannel implements the status channel (C4): a single
// per-preflight progress/log/report row that the dispatcher and pipeline
// mutate as an audit runs, plus a Postgres LISTEN/NOTIFY fan-out and
// WebSocket subscription surface so callers can watch it live. Grounded on
// the teacher's pkg/events package (listener.go/manager.go/publisher.go),
// adapted from an append-only timeline-event log to a single mutable row:
// subscribers re-fetch the row on every notification instead of replaying
// a missed-event catchup query, since there is exactly one row per
// preflight rather than an unbounded event stream.
package statuschannel

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
)

// Channel returns the Postgres NOTIFY channel name for a preflight's status
// row. Exported so the dispatcher/manager agree on the same name without a
// shared constant import cycle.
func Channel(preflightID string) string {
	return "status_" + preflightID
}

// notifyPayload is intentionally tiny: a routing hint, not the row itself.
// Postgres NOTIFY payloads are capped at 8000 bytes and a Status row
// (logs, plan, report) can exceed that comfortably, so subscribers always
// re-fetch the full row via Store.Get on receipt.
type notifyPayload struct {
	PreflightID string `json:"preflight_id"`
}

// Store persists and mutates the statuses table and notifies subscribers
// of every change. It satisfies queue.StatusPublisher.
type Store struct {
	db *sql.DB
}

// NewStore wraps a pooled *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open creates (or resets) the status row for preflightID on job claim, per
// SPEC_FULL.md §4.4: "Opens {status: processing, progress: 0, logs: []} on
// claim."
func (s *Store) Open(ctx context.Context, preflightID, jobID, userID, tier string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statuses (preflight_id, job_id, user_id, tier, status, progress, logs, worker_progress, token_usage, started_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, 0, '[]', '[]', $6, $7)
		ON CONFLICT (preflight_id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			progress = 0,
			logs = '[]',
			current_step = NULL,
			worker_progress = '[]',
			plan_data = NULL,
			token_usage = EXCLUDED.token_usage,
			report_data = NULL,
			error_message = NULL,
			error_details = NULL,
			started_at = EXCLUDED.started_at,
			completed_at = NULL,
			failed_at = NULL`,
		preflightID, jobID, userID, tier, models.StatusProcessing, emptyTokenUsageJSON(), now,
	)
	if err != nil {
		return apperrors.Persistence("statuschannel.Open", err)
	}
	return s.notify(ctx, preflightID)
}

// AppendLog appends one log line and optionally advances progress/currentStep
// on a phase transition.
func (s *Store) AppendLog(ctx context.Context, preflightID, line string, progress int, currentStep string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE statuses SET
			logs = logs || to_jsonb($2::text),
			progress = $3,
			current_step = NULLIF($4, '')
		WHERE preflight_id = $1`,
		preflightID, line, progress, currentStep,
	)
	if err != nil {
		return apperrors.Persistence("statuschannel.AppendLog", err)
	}
	return s.notify(ctx, preflightID)
}

// SetPlanData writes the planner's output after Phase 1.
func (s *Store) SetPlanData(ctx context.Context, preflightID string, plan *models.Plan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return apperrors.Validation(fmt.Sprintf("statuschannel.SetPlanData: marshaling plan: %v", err))
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE statuses SET plan_data = $2 WHERE preflight_id = $1`, preflightID, data); err != nil {
		return apperrors.Persistence("statuschannel.SetPlanData", err)
	}
	return s.notify(ctx, preflightID)
}

// AddTokenUsage accumulates usage into one of the three phase buckets.
func (s *Store) AddTokenUsage(ctx context.Context, preflightID, phase string, usage models.TokenUsage) error {
	var column string
	switch phase {
	case "planner", "workers", "coordinator":
		column = phase
	default:
		return apperrors.Validation(fmt.Sprintf("statuschannel.AddTokenUsage: unknown phase %q", phase))
	}

	query := fmt.Sprintf(`
		UPDATE statuses SET token_usage = jsonb_set(
			token_usage, '{%s}', to_jsonb(
				jsonb_build_object(
					'input_tokens', COALESCE((token_usage->'%s'->>'input_tokens')::int, 0) + $2,
					'output_tokens', COALESCE((token_usage->'%s'->>'output_tokens')::int, 0) + $3,
					'total_tokens', COALESCE((token_usage->'%s'->>'total_tokens')::int, 0) + $4
				)
			), true
		) WHERE preflight_id = $1`, column, column, column, column)

	if _, err := s.db.ExecContext(ctx, query, preflightID, usage.InputTokens, usage.OutputTokens, usage.TotalTokens); err != nil {
		return apperrors.Persistence("statuschannel.AddTokenUsage", err)
	}
	return s.notify(ctx, preflightID)
}

// SetWorkerProgress replaces the full worker-progress list, called as each
// Phase 2 worker task starts/completes.
func (s *Store) SetWorkerProgress(ctx context.Context, preflightID string, progress []models.WorkerProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return apperrors.Validation(fmt.Sprintf("statuschannel.SetWorkerProgress: marshaling: %v", err))
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE statuses SET worker_progress = $2 WHERE preflight_id = $1`, preflightID, data); err != nil {
		return apperrors.Persistence("statuschannel.SetWorkerProgress", err)
	}
	return s.notify(ctx, preflightID)
}

// Complete writes the final report and marks the row completed.
func (s *Store) Complete(ctx context.Context, preflightID string, report *models.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return apperrors.Validation(fmt.Sprintf("statuschannel.Complete: marshaling report: %v", err))
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE statuses SET
			status = $2, progress = 100, report_data = $3, completed_at = now(),
			actual_duration_seconds = EXTRACT(EPOCH FROM (now() - started_at))::int
		WHERE preflight_id = $1`,
		preflightID, models.StatusCompleted, data,
	)
	if err != nil {
		return apperrors.Persistence("statuschannel.Complete", err)
	}
	return s.notify(ctx, preflightID)
}

// Fail writes the error and marks the row failed.
func (s *Store) Fail(ctx context.Context, preflightID, errMessage, errDetails string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE statuses SET
			status = $2, error_message = $3, error_details = NULLIF($4, ''), failed_at = now()
		WHERE preflight_id = $1`,
		preflightID, models.StatusFailed, errMessage, errDetails,
	)
	if err != nil {
		return apperrors.Persistence("statuschannel.Fail", err)
	}
	return s.notify(ctx, preflightID)
}

// Cancel marks the row cancelled.
func (s *Store) Cancel(ctx context.Context, preflightID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE statuses SET status = $2 WHERE preflight_id = $1`, preflightID, models.StatusCancelled)
	if err != nil {
		return apperrors.Persistence("statuschannel.Cancel", err)
	}
	return s.notify(ctx, preflightID)
}

// PublishJobStatus implements queue.StatusPublisher: the worker pool calls
// this on every lifecycle transition (processing/completed/failed/cancelled).
// It only touches the status column — the richer per-phase fields are
// written directly by the pipeline through the methods above.
func (s *Store) PublishJobStatus(ctx context.Context, preflightID string, status models.StatusState) error {
	result, err := s.db.ExecContext(ctx, `UPDATE statuses SET status = $2 WHERE preflight_id = $1`, preflightID, status)
	if err != nil {
		return apperrors.Persistence("statuschannel.PublishJobStatus", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// No row yet (status hasn't been opened) — the dispatcher always
		// calls Open before processing, so this is a best-effort no-op
		// rather than an error, matching "notification failure must never
		// fail the enqueue/claim" for status writes too.
		return nil
	}
	return s.notify(ctx, preflightID)
}

// Get reads the current snapshot. Permissioned read is enforced by the
// caller (API layer): a subscriber may read only rows they own, or any row
// if privileged.
func (s *Store) Get(ctx context.Context, preflightID string) (*models.Status, error) {
	var st models.Status
	var userID sql.NullString
	var jobID sql.NullString
	var logsJSON, workerProgressJSON, tokenUsageJSON []byte
	var planDataJSON, reportDataJSON sql.NullString
	var currentStep, errorMessage, errorDetails sql.NullString
	var startedAt, completedAt, failedAt sql.NullTime
	var estimatedDuration, actualDuration sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT preflight_id, job_id, user_id, tier, status, progress, logs, current_step,
			worker_progress, plan_data, token_usage, report_data, error_message, error_details,
			started_at, completed_at, failed_at, estimated_duration_seconds, actual_duration_seconds
		FROM statuses WHERE preflight_id = $1`, preflightID,
	).Scan(
		&st.PreflightID, &jobID, &userID, &st.Tier, &st.Status, &st.Progress, &logsJSON, &currentStep,
		&workerProgressJSON, &planDataJSON, &tokenUsageJSON, &reportDataJSON, &errorMessage, &errorDetails,
		&startedAt, &completedAt, &failedAt, &estimatedDuration, &actualDuration,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(fmt.Sprintf("status for preflight %s", preflightID))
	}
	if err != nil {
		return nil, apperrors.Persistence("statuschannel.Get", err)
	}

	if jobID.Valid {
		st.JobID = &jobID.String
	}
	if userID.Valid {
		st.UserID = userID.String
	}
	if currentStep.Valid {
		st.CurrentStep = &currentStep.String
	}
	if errorMessage.Valid {
		st.ErrorMessage = &errorMessage.String
	}
	if errorDetails.Valid {
		st.ErrorDetails = &errorDetails.String
	}
	if startedAt.Valid {
		st.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		st.FailedAt = &failedAt.Time
	}
	if estimatedDuration.Valid {
		v := int(estimatedDuration.Int64)
		st.EstimatedDurationSeconds = &v
	}
	if actualDuration.Valid {
		v := int(actualDuration.Int64)
		st.ActualDurationSeconds = &v
	}
	if err := json.Unmarshal(logsJSON, &st.Logs); err != nil {
		return nil, apperrors.Corrupted(fmt.Sprintf("statuschannel.Get: preflight %s: invalid logs json: %v", preflightID, err))
	}
	if err := json.Unmarshal(workerProgressJSON, &st.WorkerProgress); err != nil {
		return nil, apperrors.Corrupted(fmt.Sprintf("statuschannel.Get: preflight %s: invalid worker_progress json: %v", preflightID, err))
	}
	if err := json.Unmarshal(tokenUsageJSON, &st.TokenUsage); err != nil {
		return nil, apperrors.Corrupted(fmt.Sprintf("statuschannel.Get: preflight %s: invalid token_usage json: %v", preflightID, err))
	}
	if planDataJSON.Valid {
		var plan models.Plan
		if err := json.Unmarshal([]byte(planDataJSON.String), &plan); err != nil {
			return nil, apperrors.Corrupted(fmt.Sprintf("statuschannel.Get: preflight %s: invalid plan_data json: %v", preflightID, err))
		}
		st.PlanData = &plan
	}
	if reportDataJSON.Valid {
		var report models.Report
		if err := json.Unmarshal([]byte(reportDataJSON.String), &report); err != nil {
			return nil, apperrors.Corrupted(fmt.Sprintf("statuschannel.Get: preflight %s: invalid report_data json: %v", preflightID, err))
		}
		st.ReportData = &report
	}

	return &st, nil
}

// CanRead reports whether callerUserID/privileged may observe preflightID's
// status row, per SPEC_FULL.md §4.4's ownership rule.
func (s *Store) CanRead(ctx context.Context, preflightID, callerUserID string, privileged bool) (bool, error) {
	if privileged {
		return true, nil
	}
	st, err := s.Get(ctx, preflightID)
	if err != nil {
		return false, err
	}
	return st.UserID == callerUserID, nil
}

func (s *Store) notify(ctx context.Context, preflightID string) error {
	payload, err := json.Marshal(notifyPayload{PreflightID: preflightID})
	if err != nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel(preflightID), payload); err != nil {
		// Per SPEC_FULL.md §4.3's notify-must-never-fail-the-write precedent,
		// extended here: a dropped NOTIFY degrades subscribers to polling
		// (they can still call Get), it never loses the underlying write.
		return nil
	}
	return nil
}

func emptyTokenUsageJSON() []byte {
	b, _ := json.Marshal(models.TokenUsageByPhase{})
	return b
}
