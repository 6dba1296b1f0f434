package api

// SubmitRequest is the body of POST /submit.
type SubmitRequest struct {
	PreflightID string `json:"preflightId" binding:"required"`
	Tier        string `json:"tier" binding:"required"`
}

// TaskPayload describes an ad-hoc reasoning task for POST /orchestrator's
// task form.
type TaskPayload struct {
	Description string `json:"description" binding:"required"`
	Type        string `json:"type,omitempty"`
	Context     string `json:"context,omitempty"`
}

// OrchestratorRequest is the body of POST /orchestrator. It accepts either
// the task{...} form or the legacy {preflightId, tier} form — exactly one
// of Task or PreflightID must be set. See SPEC_FULL.md §6.
type OrchestratorRequest struct {
	Task           *TaskPayload `json:"task,omitempty"`
	SessionID      string       `json:"sessionId,omitempty"`
	Stream         bool         `json:"stream,omitempty"`
	ThinkingBudget string       `json:"thinkingBudget,omitempty"`
	MaxIterations  int          `json:"maxIterations,omitempty"`

	// Legacy form, rewritten internally to an equivalent TaskPayload.
	PreflightID string `json:"preflightId,omitempty"`
	Tier        string `json:"tier,omitempty"`
}

// RecoveryAction is the set of actions POST /recovery accepts.
type RecoveryAction string

const (
	RecoveryActionRecover RecoveryAction = "recover"
	RecoveryActionStatus  RecoveryAction = "status"
	RecoveryActionCleanup RecoveryAction = "cleanup"
)

// RecoveryRequest is the body of POST /recovery.
type RecoveryRequest struct {
	Action RecoveryAction `json:"action" binding:"required"`
}
