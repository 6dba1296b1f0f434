package models

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a reasoning session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusPaused    SessionStatus = "paused"
)

// ReasoningSession is the durable record of one run of the THINK/ACT/OBSERVE
// loop (C6). See SPEC_FULL.md §3.
type ReasoningSession struct {
	ID               string          `json:"id"`
	TaskDescription  string          `json:"task_description"`
	Status           SessionStatus   `json:"status"`
	UserID           *string         `json:"user_id,omitempty"`
	TotalSteps       int             `json:"total_steps"`
	TotalTokens      int             `json:"total_tokens"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// ReasoningStep is one recorded THINK/ACT/OBSERVE cycle.
type ReasoningStep struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	StepNumber  int        `json:"step_number"`
	Reasoning   string     `json:"reasoning"`
	ToolCalled  *string    `json:"tool_called,omitempty"`
	ToolInput   *string    `json:"tool_input,omitempty"`
	ToolOutput  *string    `json:"tool_output,omitempty"`
	TokenUsage  TokenUsage `json:"token_usage"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ReasoningCheckpoint is the resumable snapshot upserted on (sessionID, stepNumber).
type ReasoningCheckpoint struct {
	SessionID           string          `json:"session_id"`
	StepNumber          int             `json:"step_number"`
	ContextSnapshot     json.RawMessage `json:"context_snapshot"`
	LastSuccessfulTool  *string         `json:"last_successful_tool,omitempty"`
	RecoveryStrategies  []string        `json:"recovery_strategies"`
}
