package reasoning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/google/uuid"
)

// Store persists reasoning sessions, their steps, and recovery checkpoints.
// The tables are append-only except for reasoning_sessions.status/total_*,
// mirroring the durability guarantee spec.md §5 places on the reasoning
// loop: every step taken must survive a crash so a session can resume from
// its last checkpoint.
type Store struct {
	db *sql.DB
}

// NewStore wraps a pooled *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSession starts a new reasoning session in the active state.
func (s *Store) CreateSession(ctx context.Context, taskDescription string, userID *string, metadata json.RawMessage) (*models.ReasoningSession, error) {
	session := &models.ReasoningSession{
		ID:              uuid.NewString(),
		TaskDescription: taskDescription,
		Status:          models.SessionStatusActive,
		UserID:          userID,
		Metadata:        metadata,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reasoning_sessions (id, task_description, status, user_id, metadata)
		VALUES ($1, $2, 'active', $3, $4)
		RETURNING created_at, updated_at`,
		session.ID, session.TaskDescription, session.UserID, nullableJSON(metadata),
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, apperrors.Persistence("reasoning.CreateSession", fmt.Errorf("inserting session: %w", err))
	}
	return session, nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.ReasoningSession, error) {
	session := &models.ReasoningSession{}
	var metadata []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_description, status, user_id, total_steps, total_tokens, metadata, created_at, updated_at
		FROM reasoning_sessions WHERE id = $1`, sessionID,
	).Scan(&session.ID, &session.TaskDescription, &session.Status, &session.UserID,
		&session.TotalSteps, &session.TotalTokens, &metadata, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("reasoning session " + sessionID)
		}
		return nil, apperrors.Persistence("reasoning.GetSession", fmt.Errorf("querying session: %w", err))
	}
	if metadata != nil {
		session.Metadata = json.RawMessage(metadata)
	}
	return session, nil
}

// UpdateSessionStatus transitions a session's terminal/pausal state.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reasoning_sessions SET status = $2, updated_at = now() WHERE id = $1`,
		sessionID, status)
	if err != nil {
		return apperrors.Persistence("reasoning.UpdateSessionStatus", fmt.Errorf("updating session: %w", err))
	}
	return nil
}

// AppendStep durably records one THINK/ACT/OBSERVE step and rolls its token
// usage and step count into the parent session. stepNumber must be strictly
// increasing per spec.md §5; the unique index on (session_id, step_number)
// turns a concurrent double-write into a conflict rather than silent
// corruption.
func (s *Store) AppendStep(ctx context.Context, step *models.ReasoningStep) error {
	usage, err := json.Marshal(step.TokenUsage)
	if err != nil {
		return apperrors.Validation("marshaling step token usage: " + err.Error())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Persistence("reasoning.AppendStep", fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if step.ID == "" {
		step.ID = uuid.NewString()
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO reasoning_steps (id, session_id, step_number, reasoning, tool_called, tool_input, tool_output, token_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		step.ID, step.SessionID, step.StepNumber, step.Reasoning,
		step.ToolCalled, step.ToolInput, step.ToolOutput, usage,
	).Scan(&step.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict(fmt.Sprintf("reasoning.AppendStep: step %d already recorded for session %s", step.StepNumber, step.SessionID))
		}
		return apperrors.Persistence("reasoning.AppendStep", fmt.Errorf("inserting step: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reasoning_sessions
		SET total_steps = total_steps + 1,
		    total_tokens = total_tokens + $2,
		    updated_at = now()
		WHERE id = $1`,
		step.SessionID, step.TokenUsage.TotalTokens)
	if err != nil {
		return apperrors.Persistence("reasoning.AppendStep", fmt.Errorf("updating session totals: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Persistence("reasoning.AppendStep", fmt.Errorf("committing: %w", err))
	}
	return nil
}

// Steps returns all steps for a session in step order, for building the
// transcript handed back to the LLM on the next iteration and for resuming
// from a checkpoint after a crash.
func (s *Store) Steps(ctx context.Context, sessionID string) ([]models.ReasoningStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, step_number, reasoning, tool_called, tool_input, tool_output, token_usage, created_at
		FROM reasoning_steps WHERE session_id = $1 ORDER BY step_number ASC`, sessionID)
	if err != nil {
		return nil, apperrors.Persistence("reasoning.Steps", fmt.Errorf("querying steps: %w", err))
	}
	defer rows.Close()

	var steps []models.ReasoningStep
	for rows.Next() {
		var step models.ReasoningStep
		var usage []byte
		if err := rows.Scan(&step.ID, &step.SessionID, &step.StepNumber, &step.Reasoning,
			&step.ToolCalled, &step.ToolInput, &step.ToolOutput, &usage, &step.CreatedAt); err != nil {
			return nil, apperrors.Persistence("reasoning.Steps", fmt.Errorf("scanning step: %w", err))
		}
		if len(usage) > 0 {
			if err := json.Unmarshal(usage, &step.TokenUsage); err != nil {
				return nil, apperrors.Corrupted(fmt.Errorf("unmarshaling step %s token usage: %w", step.ID, err))
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// SaveCheckpoint upserts the recovery checkpoint for sessionID at
// stepNumber, used to resume a paused or crashed session from its last
// known-good point rather than replaying from step 1.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *models.ReasoningCheckpoint) error {
	strategies, err := json.Marshal(cp.RecoveryStrategies)
	if err != nil {
		return apperrors.Validation("marshaling recovery strategies: " + err.Error())
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reasoning_checkpoints (session_id, step_number, context_snapshot, last_successful_tool, recovery_strategies)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, step_number) DO UPDATE SET
		    context_snapshot = EXCLUDED.context_snapshot,
		    last_successful_tool = EXCLUDED.last_successful_tool,
		    recovery_strategies = EXCLUDED.recovery_strategies`,
		cp.SessionID, cp.StepNumber, []byte(cp.ContextSnapshot), cp.LastSuccessfulTool, strategies)
	if err != nil {
		return apperrors.Persistence("reasoning.SaveCheckpoint", fmt.Errorf("upserting checkpoint: %w", err))
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a session, or
// apperrors.ErrNotFound if none has been saved yet.
func (s *Store) LatestCheckpoint(ctx context.Context, sessionID string) (*models.ReasoningCheckpoint, error) {
	cp := &models.ReasoningCheckpoint{SessionID: sessionID}
	var snapshot, strategies []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT step_number, context_snapshot, last_successful_tool, recovery_strategies
		FROM reasoning_checkpoints WHERE session_id = $1
		ORDER BY step_number DESC LIMIT 1`, sessionID,
	).Scan(&cp.StepNumber, &snapshot, &cp.LastSuccessfulTool, &strategies)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("checkpoint for session " + sessionID)
		}
		return nil, apperrors.Persistence("reasoning.LatestCheckpoint", fmt.Errorf("querying checkpoint: %w", err))
	}
	cp.ContextSnapshot = json.RawMessage(snapshot)
	if len(strategies) > 0 {
		if err := json.Unmarshal(strategies, &cp.RecoveryStrategies); err != nil {
			return nil, apperrors.Corrupted(fmt.Errorf("unmarshaling recovery strategies: %w", err))
		}
	}
	return cp, nil
}

// DeleteOlderThan removes completed/failed sessions last updated before
// cutoff, cascading to their steps and checkpoints. Active and paused
// (human_needed) sessions are never deleted regardless of age — only a
// terminal session is safe to retire. Used by pkg/cleanup to enforce
// config.RetentionConfig.ReasoningSessionTTL.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM reasoning_sessions
		WHERE status IN ('completed', 'failed') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Persistence("reasoning.DeleteOlderThan", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Persistence("reasoning.DeleteOlderThan", err)
	}
	return int(n), nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), matched structurally so both pgx and lib/pq errors work.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
