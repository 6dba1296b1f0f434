package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/llmclient"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
)

// staticPlanTaskID is the single task id emitted for tiers that skip the
// LLM planner (today, only TierShape).
const staticPlanTaskID = "metadata-analyst"

// Planner implements Phase 1: build the planning file map, detect the
// platform stack, and produce a Plan — either the fixed MetadataAnalyst
// task for the shape tier, or an LLM-authored plan for paid tiers.
type Planner struct {
	llm llmclient.Client
}

// NewPlanner builds a Planner bound to a completion client. llm is unused
// for the static-plan tier but required for every paid tier.
func NewPlanner(llm llmclient.Client) *Planner {
	return &Planner{llm: llm}
}

// PlanResult carries the plan plus the planner's token usage and the
// detected platform stack (handed to the coordinator for context).
type PlanResult struct {
	Plan          *models.Plan
	TokenUsage    models.TokenUsage
	PlatformStack []string
	PlanningFiles []models.RepoMapEntry
}

// Plan runs Phase 1 for one preflight/tier pair.
func (p *Planner) Plan(ctx context.Context, preflight *models.Preflight, tier *config.TierConfig) (*PlanResult, error) {
	planningFiles := BuildPlanningFileMap(preflight.RepoMap)
	platformStack := DetectPlatformStack(preflight.RepoMap)

	if tier.Name.UsesStaticPlan() {
		return &PlanResult{
			Plan: &models.Plan{
				FocusArea: "repository structure and metadata",
				Tasks: []models.WorkerTask{
					{ID: staticPlanTaskID, Role: "MetadataAnalyst", Instruction: "Summarize the repository's structure, languages, and high-level organization. No specific files are targeted — use the preflight's file map and stats."},
				},
			},
			PlatformStack: platformStack,
			PlanningFiles: planningFiles,
		}, nil
	}

	prompt := buildPlannerPrompt(preflight, planningFiles, platformStack)
	resp, err := p.llm.Complete(ctx, llmclient.CompletionRequest{
		SystemPrompt:   tier.PlannerSystemPrompt,
		Messages:       []llmclient.Message{{Role: "user", Content: prompt}},
		ThinkingBudget: tier.ThinkingBudget.Tokens(),
	})
	if err != nil {
		return nil, apperrors.Transient(fmt.Errorf("pipeline.Planner: completion request: %w", err))
	}

	plan, err := parsePlan(resp.Text)
	if err != nil {
		return nil, apperrors.Corrupted(fmt.Errorf("pipeline.Planner: parsing plan: %w", err))
	}

	return &PlanResult{
		Plan: plan,
		TokenUsage: models.TokenUsage{
			InputTokens:  resp.TokenUsage.InputTokens,
			OutputTokens: resp.TokenUsage.OutputTokens,
			TotalTokens:  resp.TokenUsage.TotalTokens,
		},
		PlatformStack: platformStack,
		PlanningFiles: planningFiles,
	}, nil
}

func buildPlannerPrompt(preflight *models.Preflight, planningFiles []models.RepoMapEntry, platformStack []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository: %s/%s (default branch %s)\n", preflight.Owner, preflight.Repo, preflight.DefaultBranch)
	fmt.Fprintf(&sb, "File count: %d, total size: %d bytes\n", preflight.Stats.FileCount, preflight.Stats.TotalSizeBytes)
	if len(platformStack) > 0 {
		fmt.Fprintf(&sb, "Detected platform stack: %s\n", strings.Join(platformStack, ", "))
	}
	sb.WriteString("\nPlanning file map (path, size in bytes):\n")
	for _, f := range planningFiles {
		fmt.Fprintf(&sb, "- %s (%d)\n", f.Path, f.Size)
	}
	sb.WriteString("\nProduce a plan as a JSON object: {\"focusArea\": string, \"tasks\": [{\"id\": string, \"role\": string, \"instruction\": string, \"targetFiles\": [string]}]}.")
	return sb.String()
}

// plannerPlanJSON mirrors the wire shape the tier prompt asks for
// (camelCase, per spec.md §4.5), decoded into the snake_case models.Plan.
type plannerPlanJSON struct {
	FocusArea string `json:"focusArea"`
	Tasks     []struct {
		ID          string   `json:"id"`
		Role        string   `json:"role"`
		Instruction string   `json:"instruction"`
		TargetFiles []string `json:"targetFiles"`
	} `json:"tasks"`
}

func parsePlan(text string) (*models.Plan, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object found in planner response")
	}

	var parsed plannerPlanJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshaling plan: %w", err)
	}

	plan := &models.Plan{FocusArea: parsed.FocusArea, Tasks: make([]models.WorkerTask, len(parsed.Tasks))}
	for i, t := range parsed.Tasks {
		plan.Tasks[i] = models.WorkerTask{ID: t.ID, Role: t.Role, Instruction: t.Instruction, TargetFiles: t.TargetFiles}
	}
	return plan, nil
}

// extractJSONObject strips a ```json fence if present and returns the
// first balanced {...} object in text, tolerating the same loose
// formatting the reasoning loop's parser does.
func extractJSONObject(text string) string {
	trimmed := strings.TrimSpace(text)
	if idx := strings.Index(trimmed, "```"); idx != -1 {
		rest := trimmed[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end != -1 {
			trimmed = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(trimmed, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(trimmed); i++ {
		c := trimmed[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return trimmed[start : i+1]
			}
		}
	}
	return ""
}
