package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/reasoning"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/tools"
)

// orchestratorHandler handles POST /orchestrator: runs one standalone
// reasoning session (C6), outside the three-phase pipeline, either
// synchronously or streamed as SSE. Accepts the task{...} form directly or
// the legacy {preflightId, tier} form, rewritten to an equivalent task.
// Grounded on the teacher's streaming chat handler (handler_chat.go's
// SSE-over-HTTP reasoning relay), adapted from a follow-up-chat session to
// an ad-hoc one-shot reasoning session.
func (s *Server) orchestratorHandler(c *gin.Context) {
	var req OrchestratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Validation(err.Error()))
		return
	}

	task, err := s.resolveTask(c, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	thinkingBudget := config.ThinkingBudgetAudit
	if req.ThinkingBudget != "" && config.ThinkingBudget(req.ThinkingBudget).IsValid() {
		thinkingBudget = config.ThinkingBudget(req.ThinkingBudget)
	}

	loopReq := reasoning.Request{
		SessionID:       req.SessionID,
		TaskDescription: task.Description,
		SystemPrompt:    orchestratorSystemPrompt(task.Type),
		InitialPrompt:   orchestratorInitialPrompt(task),
		ThinkingBudget:  thinkingBudget,
		MaxIterations:   req.MaxIterations,
		ToolPermission:  tools.PermissionExecute,
		ToolContext: &tools.Context{
			Context:    c.Request.Context(),
			Permission: tools.PermissionExecute,
		},
	}

	if req.Stream {
		s.streamOrchestrator(c, loopReq)
		return
	}
	s.syncOrchestrator(c, loopReq)
}

// resolveTask returns the task the session should run, rewriting the
// legacy {preflightId, tier} form into an equivalent TaskPayload when no
// task{...} body was given.
func (s *Server) resolveTask(c *gin.Context, req *OrchestratorRequest) (*TaskPayload, error) {
	if req.Task != nil {
		return req.Task, nil
	}
	if req.PreflightID == "" {
		return nil, apperrors.Validation("one of task or preflightId+tier is required")
	}

	tier, ok := config.CanonicalizeTier(req.Tier)
	if !ok {
		return nil, apperrors.Validation("unknown tier: " + req.Tier)
	}
	pf, err := s.preflights.Get(c.Request.Context(), req.PreflightID)
	if err != nil {
		return nil, apperrors.NotFound("preflight " + req.PreflightID)
	}

	return &TaskPayload{
		Description: fmt.Sprintf("Run a %s-tier audit pass over %s/%s", tier, pf.Owner, pf.Repo),
		Type:        string(tier),
		Context:     fmt.Sprintf("preflight_id=%s repo_url=%s default_branch=%s", pf.ID, pf.RepoURL, pf.DefaultBranch),
	}, nil
}

func orchestratorSystemPrompt(taskType string) string {
	if tier, ok := config.GetBuiltinConfig().Tiers[config.TierName(taskType)]; ok && tier.WorkerSystemPrompt != "" {
		return tier.WorkerSystemPrompt
	}
	return "You are the audit orchestration core's standalone reasoning agent. Investigate the " +
		"requested task using the tools available to you and report a conclusive result."
}

func orchestratorInitialPrompt(task *TaskPayload) string {
	prompt := task.Description
	if task.Context != "" {
		prompt += "\n\nContext: " + task.Context
	}
	return prompt
}

func (s *Server) syncOrchestrator(c *gin.Context, req reasoning.Request) {
	result, err := s.loop.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCompleteEvent(req.SessionID, result))
}

func (s *Server) streamOrchestrator(c *gin.Context, req reasoning.Request) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	type event struct {
		name string
		data any
	}
	events := make(chan event, 16)
	req.OnStep = func(step *models.ReasoningStep) {
		events <- event{name: "reasoning", data: OrchestratorReasoningEvent{
			StepNumber: step.StepNumber,
			Reasoning:  step.Reasoning,
			ToolCalled: step.ToolCalled,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}}
	}

	done := make(chan struct{})
	go func() {
		defer close(events)
		defer close(done)
		result, err := s.loop.Run(c.Request.Context(), req)
		if err != nil {
			events <- event{name: "error", data: OrchestratorErrorEvent{Message: err.Error()}}
			return
		}
		events <- event{name: "complete", data: toCompleteEvent(sessionID, result)}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.SSEvent("start", OrchestratorStartEvent{SessionID: sessionID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(ev.name, ev.data)
		return true
	})
	<-done
}

func toCompleteEvent(sessionID string, result *reasoning.Result) OrchestratorCompleteEvent {
	ev := OrchestratorCompleteEvent{
		SessionID:   sessionID,
		TotalSteps:  result.Steps,
		TotalTokens: result.TotalTokens.TotalTokens,
	}
	switch result.Outcome {
	case reasoning.OutcomeCompleted:
		ev.Success = true
		ev.FinalOutput = string(result.Complete)
	case reasoning.OutcomeFailed:
		ev.Error = result.FailReason
	case reasoning.OutcomeHumanNeeded:
		ev.Error = "human input required"
	default:
		ev.Error = "reasoning session exhausted its iteration budget"
	}
	return ev
}
