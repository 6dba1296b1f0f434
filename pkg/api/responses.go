package api

import (
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/database"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/queue"
)

// SubmitResponse is the body of a successful POST /submit.
type SubmitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// OrchestratorStartEvent is the SSE "start" event.
type OrchestratorStartEvent struct {
	SessionID string `json:"sessionId"`
}

// OrchestratorReasoningEvent is the SSE "reasoning" event, one per step.
type OrchestratorReasoningEvent struct {
	StepNumber int     `json:"stepNumber"`
	Reasoning  string  `json:"reasoning"`
	ToolCalled *string `json:"toolCalled,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// OrchestratorCompleteEvent is both the SSE "complete" event and the full
// sync (non-streamed) response body.
type OrchestratorCompleteEvent struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"sessionId"`
	TotalSteps  int    `json:"totalSteps"`
	TotalTokens int    `json:"totalTokens"`
	FinalOutput string `json:"finalOutput,omitempty"`
	Error       string `json:"error,omitempty"`
}

// OrchestratorErrorEvent is the SSE "error" event.
type OrchestratorErrorEvent struct {
	Message string `json:"message"`
}

// RecoveryResponse is the body of POST /recovery.
type RecoveryResponse struct {
	Action    RecoveryAction          `json:"action"`
	Recovered int                     `json:"recovered,omitempty"`
	Failed    int                     `json:"failed,omitempty"`
	Cleaned   int                     `json:"cleaned,omitempty"`
	Stats     *models.QueueStats      `json:"stats,omitempty"`
	Recent    []models.ActiveJobSummary `json:"recent,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string                  `json:"status"`
	Database *database.HealthStatus  `json:"database"`
	Pool     *queue.PoolHealth       `json:"workerPool,omitempty"`
}
