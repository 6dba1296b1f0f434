// Package reasoning implements the universal THINK/ACT/OBSERVE loop used
// by every tier's worker phase and by the ad-hoc /orchestrator endpoint.
// One session is a bounded sequence of LLM turns, each of which may call a
// tool (observed and fed back as the next turn's context), request human
// input, report failure, or declare completion. Grounded on the teacher's
// pkg/react's iterate-until-final-answer control flow, but the wire format
// is this spec's own tagged blocks rather than the teacher's line-based
// "Thought:/Action:/Final Answer:" headers — see parser.go.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/llmclient"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/tools"
)

// DefaultMaxIterations bounds a session when a tier sets no MaxIterations.
const DefaultMaxIterations = 50

// Outcome is the terminal result of a Run call.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeHumanNeeded Outcome = "human_needed"
	OutcomeExhausted   Outcome = "exhausted" // hit max iterations with no terminal tag
)

// Result is what Run returns once a session reaches a terminal state (or
// runs out of iterations).
type Result struct {
	Outcome     Outcome
	Complete    json.RawMessage
	FailReason  string
	HumanNeeded *HumanNeededPayload
	TotalTokens models.TokenUsage
	Steps       int
}

// Request configures one reasoning session.
type Request struct {
	SessionID       string // empty to start a fresh session
	TaskDescription string
	UserID          *string
	SystemPrompt    string
	InitialPrompt   string
	ThinkingBudget  config.ThinkingBudget
	MaxIterations   int // 0 uses DefaultMaxIterations
	ToolPermission  tools.Permission
	ToolContext     *tools.Context

	// OnStep, if set, is invoked synchronously right after each step is
	// durably recorded. Used by the /orchestrator SSE handler to stream
	// "reasoning" events as they happen rather than buffering the whole
	// session; absent for pipeline worker sessions, which only care about
	// the final Result.
	OnStep func(step *models.ReasoningStep)
}

// Loop executes reasoning sessions against an LLM, with durable
// step-by-step persistence and tool execution through a registry.
type Loop struct {
	llm      llmclient.Client
	registry *tools.Registry
	store    *Store
}

// New builds a Loop. registry is filtered per-request to the tools the
// caller's ToolPermission allows.
func New(llm llmclient.Client, registry *tools.Registry, store *Store) *Loop {
	return &Loop{llm: llm, registry: registry, store: store}
}

// Run drives one session to completion, failure, a human-input request, or
// iteration exhaustion. Every step is durably recorded before the loop
// decides what to do next, so a crash mid-session can resume from the last
// persisted step via Store.Steps / Store.LatestCheckpoint.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	session, startStep, transcript, err := l.resumeOrCreate(ctx, req)
	if err != nil {
		return nil, err
	}

	log := slog.With("session_id", session.ID, "task", req.TaskDescription)
	total := models.TokenUsage{}

	for iteration := startStep; iteration <= maxIter; iteration++ {
		resp, err := l.llm.Complete(ctx, llmclient.CompletionRequest{
			SystemPrompt: req.SystemPrompt,
			Messages:     append([]llmclient.Message{{Role: "user", Content: req.InitialPrompt}}, transcript...),
			ThinkingBudget: req.ThinkingBudget.Tokens(),
		})
		if err != nil {
			return nil, apperrors.Transient(fmt.Errorf("reasoning.Run: completion request: %w", err))
		}
		usage := models.TokenUsage{
			InputTokens:  resp.TokenUsage.InputTokens,
			OutputTokens: resp.TokenUsage.OutputTokens,
			TotalTokens:  resp.TokenUsage.TotalTokens,
		}
		total.Add(usage)

		parsed := Parse(resp.Text)

		step := &models.ReasoningStep{
			SessionID:  session.ID,
			StepNumber: iteration,
			Reasoning:  parsed.Thinking,
			TokenUsage: usage,
		}
		if parsed.ParseNote != "" {
			step.Reasoning = strings.TrimSpace(step.Reasoning + "\n\n" + parsed.ParseNote)
		}

		transcript = append(transcript, llmclient.Message{Role: "assistant", Content: resp.Text})

		switch parsed.Action {
		case ActionComplete:
			step.ToolCalled = strPtr("__complete__")
			step.ToolOutput = strPtr(string(parsed.Complete))
			if err := l.recordStep(ctx, req, step); err != nil {
				return nil, err
			}
			if err := l.store.UpdateSessionStatus(ctx, session.ID, models.SessionStatusCompleted); err != nil {
				return nil, err
			}
			log.Info("reasoning session completed", "steps", iteration)
			return &Result{Outcome: OutcomeCompleted, Complete: parsed.Complete, TotalTokens: total, Steps: iteration}, nil

		case ActionFailed:
			step.ToolCalled = strPtr("__failed__")
			step.ToolOutput = strPtr(parsed.Failed.Reason)
			if err := l.recordStep(ctx, req, step); err != nil {
				return nil, err
			}
			if err := l.store.UpdateSessionStatus(ctx, session.ID, models.SessionStatusFailed); err != nil {
				return nil, err
			}
			return &Result{Outcome: OutcomeFailed, FailReason: parsed.Failed.Reason, TotalTokens: total, Steps: iteration}, nil

		case ActionHumanNeeded:
			step.ToolCalled = strPtr("__human_needed__")
			if err := l.recordStep(ctx, req, step); err != nil {
				return nil, err
			}
			if err := l.store.UpdateSessionStatus(ctx, session.ID, models.SessionStatusPaused); err != nil {
				return nil, err
			}
			if err := l.checkpoint(ctx, session.ID, iteration, transcript); err != nil {
				log.Warn("failed to save checkpoint before pausing", "error", err)
			}
			return &Result{Outcome: OutcomeHumanNeeded, HumanNeeded: parsed.HumanNeeded, TotalTokens: total, Steps: iteration}, nil

		case ActionToolCall:
			observation := l.callTool(ctx, req, parsed.ToolCall.Name, parsed.ToolCall.Input)
			step.ToolCalled = &parsed.ToolCall.Name
			inputJSON, _ := json.Marshal(parsed.ToolCall.Input)
			inputStr := string(inputJSON)
			step.ToolInput = &inputStr
			step.ToolOutput = &observation
			if err := l.recordStep(ctx, req, step); err != nil {
				return nil, err
			}
			transcript = append(transcript, llmclient.Message{
				Role:    "user",
				Content: "<observation>\n" + observation + "\n</observation>",
			})

		case ActionBatchCall:
			observation := l.callBatch(ctx, req, parsed.BatchCall)
			step.ToolCalled = strPtr("__batch_call__")
			step.ToolOutput = &observation
			if err := l.recordStep(ctx, req, step); err != nil {
				return nil, err
			}
			transcript = append(transcript, llmclient.Message{
				Role:    "user",
				Content: "<observation>\n" + observation + "\n</observation>",
			})

		default: // ActionNone — parse failure, nudge the model to self-correct
			if err := l.recordStep(ctx, req, step); err != nil {
				return nil, err
			}
			transcript = append(transcript, llmclient.Message{
				Role: "user",
				Content: "SYSTEM NOTE: your previous response used no recognized tag. Respond with " +
					"<thinking>...</thinking> followed by exactly one of <tool_call>, <batch_call>, " +
					"<complete>, <human_needed>, or <failed>.",
			})
		}
	}

	log.Warn("reasoning session exhausted max iterations", "max_iterations", maxIter)
	_ = l.store.UpdateSessionStatus(ctx, session.ID, models.SessionStatusFailed)
	return &Result{Outcome: OutcomeExhausted, TotalTokens: total, Steps: maxIter}, nil
}

// recordStep persists step and, if the caller asked to observe the session
// live, fires OnStep before returning.
func (l *Loop) recordStep(ctx context.Context, req Request, step *models.ReasoningStep) error {
	if err := l.store.AppendStep(ctx, step); err != nil {
		return err
	}
	if req.OnStep != nil {
		req.OnStep(step)
	}
	return nil
}

// resumeOrCreate loads an existing session's transcript (for resume after a
// crash or a paused human_needed break) or starts a new one.
func (l *Loop) resumeOrCreate(ctx context.Context, req Request) (*models.ReasoningSession, int, []llmclient.Message, error) {
	if req.SessionID != "" {
		session, err := l.store.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, 0, nil, err
		}
		steps, err := l.store.Steps(ctx, session.ID)
		if err != nil {
			return nil, 0, nil, err
		}
		transcript := make([]llmclient.Message, 0, len(steps)*2)
		for _, s := range steps {
			transcript = append(transcript, llmclient.Message{Role: "assistant", Content: s.Reasoning})
			if s.ToolOutput != nil {
				transcript = append(transcript, llmclient.Message{Role: "user", Content: "<observation>\n" + *s.ToolOutput + "\n</observation>"})
			}
		}
		return session, session.TotalSteps + 1, transcript, nil
	}

	session, err := l.store.CreateSession(ctx, req.TaskDescription, req.UserID, nil)
	if err != nil {
		return nil, 0, nil, err
	}
	return session, 1, nil, nil
}

func (l *Loop) checkpoint(ctx context.Context, sessionID string, stepNumber int, transcript []llmclient.Message) error {
	snapshot, err := json.Marshal(transcript)
	if err != nil {
		return apperrors.Validation("marshaling checkpoint snapshot: " + err.Error())
	}
	return l.store.SaveCheckpoint(ctx, &models.ReasoningCheckpoint{
		SessionID:       sessionID,
		StepNumber:      stepNumber,
		ContextSnapshot: snapshot,
	})
}

// callTool executes one tool call and returns its observation text,
// recovering a thrown error into an error-recovery prompt per
// SPEC_FULL.md §4.6 rather than aborting the session.
func (l *Loop) callTool(ctx context.Context, req Request, name string, input map[string]any) string {
	toolCtx := *req.ToolContext
	toolCtx.Context = ctx
	toolCtx.Permission = req.ToolPermission

	result := l.registry.Execute(&toolCtx, name, input)
	if !result.Success {
		return fmt.Sprintf("ERROR calling tool %q: %s\n\nThe tool call failed. Consider a different approach, "+
			"correct your input, or use <failed> if this cannot proceed.", name, result.Error)
	}
	data, err := json.Marshal(result.Data)
	if err != nil {
		return fmt.Sprintf("Tool %q succeeded but its output could not be serialized: %v", name, err)
	}
	return string(data)
}

// callBatch executes a <batch_call>'s tools, concurrently when
// executionMode is "parallel" (the default) and sequentially for
// "sequential", and concatenates their observations into one block.
func (l *Loop) callBatch(ctx context.Context, req Request, batch *BatchCallPayload) string {
	calls := make([]tools.Call, len(batch.Tools))
	for i, t := range batch.Tools {
		calls[i] = tools.Call{Name: t.Name, Input: t.Input}
	}

	toolCtx := *req.ToolContext
	toolCtx.Context = ctx
	toolCtx.Permission = req.ToolPermission

	var results []tools.Result
	if batch.ExecutionMode == "sequential" {
		results = make([]tools.Result, len(calls))
		for i, c := range calls {
			results[i] = *l.registry.Execute(&toolCtx, c.Name, c.Input)
		}
	} else {
		results = l.registry.ExecuteParallel(&toolCtx, calls)
	}

	var sb strings.Builder
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("--- %s ---\n", batch.Tools[i].Name))
		if !r.Success {
			sb.WriteString(fmt.Sprintf("FAILED: %s\n\n", r.Error))
			continue
		}
		data, err := json.Marshal(r.Data)
		if err != nil {
			sb.WriteString(fmt.Sprintf("ERROR serializing result: %v\n\n", err))
			continue
		}
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func strPtr(s string) *string { return &s }
