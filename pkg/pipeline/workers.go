package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/reasoning"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/tools"
)

// DefaultMaxWorkers bounds Phase 2 fan-out when a tier sets no MaxWorkers.
const DefaultMaxWorkers = 4

// Workers implements Phase 2: run every planned task, each as its own
// bounded reasoning session with tool access, in parallel up to the
// tier's concurrency limit. A single task's failure never aborts the
// batch — spec.md §4.5's "worker failure must not abort the pipeline".
type Workers struct {
	loop     *reasoning.Loop
	registry *tools.Registry
}

// NewWorkers builds a Workers phase bound to the shared reasoning loop and
// tool registry workers are allowed to call.
func NewWorkers(loop *reasoning.Loop, registry *tools.Registry) *Workers {
	return &Workers{loop: loop, registry: registry}
}

// ProgressFunc is invoked after each task completes (success or
// placeholder) with a snapshot of every task's current WorkerProgress, for
// the pipeline to drive SPEC_FULL.md §4.4's 15%→85% linear progress and
// populate Status.WorkerProgress.
type ProgressFunc func(snapshot []models.WorkerProgress)

// Run executes every task in plan.Tasks and returns one WorkerResult per
// task, in the same order as plan.Tasks regardless of completion order.
func (w *Workers) Run(ctx context.Context, preflight *models.Preflight, tier *config.TierConfig, plan *models.Plan, toolCtx tools.Context, onProgress ProgressFunc) []models.WorkerResult {
	maxWorkers := tier.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}

	results := make([]models.WorkerResult, len(plan.Tasks))
	progress := make([]models.WorkerProgress, len(plan.Tasks))
	for i, task := range plan.Tasks {
		progress[i] = models.WorkerProgress{WorkerID: task.ID, Status: "pending"}
	}

	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, task := range plan.Tasks {
		wg.Add(1)
		go func(i int, task models.WorkerTask) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			started := time.Now()
			mu.Lock()
			progress[i].Status = "running"
			progress[i].StartedAt = &started
			mu.Unlock()

			result := w.runTask(ctx, preflight, tier, task, toolCtx)

			completed := time.Now()
			mu.Lock()
			results[i] = result
			progress[i].Status = "completed"
			if result.Findings.Error != "" {
				progress[i].Status = "failed"
			}
			progress[i].Progress = 100
			progress[i].CompletedAt = &completed
			snapshot := make([]models.WorkerProgress, len(progress))
			copy(snapshot, progress)
			mu.Unlock()

			if onProgress != nil {
				onProgress(snapshot)
			}
		}(i, task)
	}

	wg.Wait()
	return results
}

func (w *Workers) runTask(ctx context.Context, preflight *models.Preflight, tier *config.TierConfig, task models.WorkerTask, toolCtx tools.Context) models.WorkerResult {
	log := slog.With("task_id", task.ID, "role", task.Role, "repo", preflight.RepoURL)

	maxIter := 0
	if tier.MaxIterations != nil {
		maxIter = *tier.MaxIterations
	}

	result, err := w.loop.Run(ctx, reasoning.Request{
		TaskDescription: fmt.Sprintf("%s: %s", task.Role, task.Instruction),
		SystemPrompt:    tier.WorkerSystemPrompt,
		InitialPrompt:   workerInitialPrompt(preflight, task),
		ThinkingBudget:  tier.ThinkingBudget,
		MaxIterations:   maxIter,
		ToolPermission:  tools.PermissionExecute,
		ToolContext:     &toolCtx,
	})
	if err != nil {
		log.Error("worker task errored", "error", err)
		return placeholderResult(task.ID, err.Error())
	}

	usage := result.TotalTokens

	switch result.Outcome {
	case reasoning.OutcomeCompleted:
		findings, err := parseWorkerFindings(result.Complete)
		if err != nil {
			log.Warn("worker completed but findings could not be parsed", "error", err)
			return models.WorkerResult{TaskID: task.ID, Findings: models.WorkerFindings{Error: "parse_error", Message: err.Error()}, TokenUsage: usage}
		}
		return models.WorkerResult{TaskID: task.ID, Findings: findings, TokenUsage: usage}

	case reasoning.OutcomeFailed:
		log.Warn("worker task reported failure", "reason", result.FailReason)
		return models.WorkerResult{TaskID: task.ID, Findings: models.WorkerFindings{Error: "worker_failed", Message: result.FailReason}, TokenUsage: usage}

	default:
		log.Warn("worker task ended without completing", "outcome", result.Outcome)
		return models.WorkerResult{
			TaskID:     task.ID,
			Findings:   models.WorkerFindings{Error: string(result.Outcome), Message: "worker did not reach <complete> before its iteration budget ran out"},
			TokenUsage: usage,
		}
	}
}

func workerInitialPrompt(preflight *models.Preflight, task models.WorkerTask) string {
	prompt := fmt.Sprintf("Repository: %s/%s\nTask: %s\nRole: %s\n", preflight.Owner, preflight.Repo, task.Instruction, task.Role)
	if len(task.TargetFiles) > 0 {
		prompt += "Target files:\n"
		for _, f := range task.TargetFiles {
			prompt += "- " + f + "\n"
		}
	} else {
		prompt += "No specific target files — use the repository's file map and stats tools as needed.\n"
	}
	prompt += "\nUse tools to fetch and analyze files, then respond with <complete>{\"issues\": [...]}</complete>."
	return prompt
}

// parseWorkerFindings decodes a worker's <complete> body, accepting either
// a bare {"issues": [...]} shape or an issues array at the top level.
func parseWorkerFindings(raw json.RawMessage) (models.WorkerFindings, error) {
	var wrapped struct {
		Issues []models.Issue `json:"issues"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Issues != nil {
		return models.WorkerFindings{Issues: wrapped.Issues}, nil
	}

	var bare []models.Issue
	if err := json.Unmarshal(raw, &bare); err == nil {
		return models.WorkerFindings{Issues: bare}, nil
	}

	return models.WorkerFindings{}, fmt.Errorf("completion body is neither {issues:[...]} nor an issues array")
}

func placeholderResult(taskID, message string) models.WorkerResult {
	return models.WorkerResult{
		TaskID:   taskID,
		Findings: models.WorkerFindings{Error: "execution_error", Message: message},
	}
}
