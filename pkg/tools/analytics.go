package tools

import (
	"fmt"
	"strings"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/llmclient"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/scoring"
)

// AnalyzeCodeFilesTool implements analyze_code_files: a worker-facing tool
// that asks the configured LLM to find issues in a bounded set of files.
type AnalyzeCodeFilesTool struct{ llm llmclient.Client }

func NewAnalyzeCodeFilesTool(llm llmclient.Client) *AnalyzeCodeFilesTool {
	return &AnalyzeCodeFilesTool{llm: llm}
}

func (t *AnalyzeCodeFilesTool) Name() string        { return "analyze_code_files" }
func (t *AnalyzeCodeFilesTool) Description() string { return "Analyze a set of files for issues, optionally scoped by focus area." }
func (t *AnalyzeCodeFilesTool) RequiredPermission() Permission { return PermissionRead }
func (t *AnalyzeCodeFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"files"},
		"properties": map[string]any{
			"files":      map[string]any{"type": "array"},
			"focusAreas": map[string]any{"type": "array"},
			"context":    map[string]any{"type": "string"},
		},
	}
}

func (t *AnalyzeCodeFilesTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	rawFiles, _ := input["files"].([]any)
	if len(rawFiles) == 0 {
		return &Result{Success: false, Error: "files is required and must be non-empty"}, nil
	}

	var b strings.Builder
	b.WriteString("Analyze the following files for issues:\n\n")
	for _, f := range rawFiles {
		m, _ := f.(map[string]any)
		path, _ := m["path"].(string)
		content, _ := m["content"].(string)
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", path, content)
	}
	if focusAreas, ok := input["focusAreas"].([]any); ok && len(focusAreas) > 0 {
		b.WriteString("Focus areas: ")
		for i, a := range focusAreas {
			if i > 0 {
				b.WriteString(", ")
			}
			s, _ := a.(string)
			b.WriteString(s)
		}
		b.WriteString("\n")
	}

	resp, err := t.llm.Complete(ctx, llmclient.CompletionRequest{
		SystemPrompt: "You are a code analysis worker. Report issues as a JSON array of {severity,category,title,description,filePath}.",
		Messages:     []llmclient.Message{{Role: "user", Content: b.String()}},
		ThinkingBudget: 8192,
	})
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Success:    true,
		Data:       map[string]any{"raw_analysis": resp.Text},
		TokenUsage: resp.TokenUsage.TotalTokens,
	}, nil
}

// CalculateHealthScoreTool implements calculate_health_score, exposing the
// deterministic scoring function (pkg/scoring) directly to the reasoning
// loop so a worker or the coordinator can compute it without re-deriving
// the deduction table.
type CalculateHealthScoreTool struct{}

func NewCalculateHealthScoreTool() *CalculateHealthScoreTool { return &CalculateHealthScoreTool{} }

func (t *CalculateHealthScoreTool) Name() string        { return "calculate_health_score" }
func (t *CalculateHealthScoreTool) Description() string { return "Compute the deterministic health score and risk level for an issue list." }
func (t *CalculateHealthScoreTool) RequiredPermission() Permission { return PermissionRead }
func (t *CalculateHealthScoreTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"issues"},
		"properties": map[string]any{
			"issues":    map[string]any{"type": "array"},
			"fileCount": map[string]any{"type": "integer"},
		},
	}
}

func (t *CalculateHealthScoreTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	rawIssues, _ := input["issues"].([]any)
	issues := make([]models.Issue, 0, len(rawIssues))
	for _, raw := range rawIssues {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		issues = append(issues, models.Issue{Severity: models.Severity(stringField(m, "severity"))})
	}

	result := scoring.Score(issues)
	return &Result{Success: true, Data: map[string]any{
		"health_score":     result.HealthScore,
		"risk_level":       result.RiskLevel,
		"production_ready": result.ProductionReady,
	}}, nil
}

// GenerateSummaryTool implements generate_summary: asks the LLM for a short
// executive summary given the already-computed score and issue list.
type GenerateSummaryTool struct{ llm llmclient.Client }

func NewGenerateSummaryTool(llm llmclient.Client) *GenerateSummaryTool {
	return &GenerateSummaryTool{llm: llm}
}

func (t *GenerateSummaryTool) Name() string        { return "generate_summary" }
func (t *GenerateSummaryTool) Description() string { return "Generate an executive summary from a health score and issue list." }
func (t *GenerateSummaryTool) RequiredPermission() Permission { return PermissionRead }
func (t *GenerateSummaryTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"healthScore", "issues"},
		"properties": map[string]any{
			"healthScore": map[string]any{"type": "integer"},
			"issues":      map[string]any{"type": "array"},
			"strengths":   map[string]any{"type": "array"},
			"repoName":    map[string]any{"type": "string"},
		},
	}
}

func (t *GenerateSummaryTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	healthScoreF, _ := input["healthScore"].(float64)
	repoName, _ := input["repoName"].(string)
	rawIssues, _ := input["issues"].([]any)

	prompt := fmt.Sprintf("Repository %s scored %d/100 with %d issues found. Write a two-sentence executive summary.",
		repoName, int(healthScoreF), len(rawIssues))

	resp, err := t.llm.Complete(ctx, llmclient.CompletionRequest{
		SystemPrompt:   "You are the coordinator stage of a code audit. Be concise and specific.",
		Messages:       []llmclient.Message{{Role: "user", Content: prompt}},
		ThinkingBudget: 4096,
	})
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{Success: true, Data: map[string]any{"summary": resp.Text}, TokenUsage: resp.TokenUsage.TotalTokens}, nil
}

// DeepAIAnalysisTool implements deep_ai_analysis: a general-purpose escape
// hatch for ad-hoc investigation queries the reasoning loop issues when
// the built-in analysis tools aren't specific enough.
type DeepAIAnalysisTool struct{ llm llmclient.Client }

func NewDeepAIAnalysisTool(llm llmclient.Client) *DeepAIAnalysisTool {
	return &DeepAIAnalysisTool{llm: llm}
}

func (t *DeepAIAnalysisTool) Name() string        { return "deep_ai_analysis" }
func (t *DeepAIAnalysisTool) Description() string { return "Run an open-ended analysis query against the configured LLM." }
func (t *DeepAIAnalysisTool) RequiredPermission() Permission { return PermissionExecute }
func (t *DeepAIAnalysisTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"query"},
		"properties": map[string]any{
			"query":        map[string]any{"type": "string"},
			"context":      map[string]any{"type": "string"},
			"analysisType": map[string]any{"type": "string"},
		},
	}
}

func (t *DeepAIAnalysisTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	query, _ := input["query"].(string)
	analysisContext, _ := input["context"].(string)
	analysisType, _ := input["analysisType"].(string)
	if query == "" {
		return &Result{Success: false, Error: "query is required"}, nil
	}

	systemPrompt := "You are a senior engineer performing deep analysis on a codebase."
	if analysisType != "" {
		systemPrompt += fmt.Sprintf(" Analysis type: %s.", analysisType)
	}

	resp, err := t.llm.Complete(ctx, llmclient.CompletionRequest{
		SystemPrompt:   systemPrompt,
		Messages:       []llmclient.Message{{Role: "user", Content: query + "\n\n" + analysisContext}},
		ThinkingBudget: 16384,
	})
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{Success: true, Data: map[string]any{"analysis": resp.Text}, TokenUsage: resp.TokenUsage.TotalTokens}, nil
}
