package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/llmclient"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/scoring"
)

// Coordinator implements Phase 3: merge worker findings (commutative in
// worker order, deduplicated by issue id), score the result, generate an
// executive summary, and normalize the Report shape persisted as an audit.
type Coordinator struct {
	llm llmclient.Client
}

// NewCoordinator builds a Coordinator bound to a completion client used
// for the executive summary.
func NewCoordinator(llm llmclient.Client) *Coordinator {
	return &Coordinator{llm: llm}
}

// CoordinateInput is the Phase 3 input per spec.md §4.5.
type CoordinateInput struct {
	RepoName      string
	Tier          *config.TierConfig
	WorkerResults []models.WorkerResult
	PlannerUsage  models.TokenUsage
}

// CoordinateResult is the Phase 3 output: the normalized Report plus the
// coordinator's own token usage (the executive-summary completion call).
type CoordinateResult struct {
	Report     *models.Report
	TokenUsage models.TokenUsage
}

// Coordinate merges worker findings into one Report.
func (c *Coordinator) Coordinate(ctx context.Context, in CoordinateInput) (*CoordinateResult, error) {
	issues := mergeFindings(in.WorkerResults)
	scored := scoring.Score(issues)

	summary, usage, err := c.summarize(ctx, in, scored)
	if err != nil {
		return nil, err
	}

	report := &models.Report{
		Issues:          issues,
		HealthScore:     scored.HealthScore,
		Summary:         summary,
		TopStrengths:    deriveTopStrengths(issues),
		TopIssues:       topIssues(issues, 5),
		SuspiciousFiles: suspiciousFiles(issues),
		ProductionReady: scored.ProductionReady,
		RiskLevel:       scored.RiskLevel,
		Tier:            string(in.Tier.Name),
	}

	return &CoordinateResult{Report: report, TokenUsage: usage}, nil
}

// mergeFindings flattens every worker's issues in taskId order for stable
// tie-breaking, deduplicating by Issue.ID when present. Order of
// completion never affects the result — spec.md §5's commutativity
// requirement.
func mergeFindings(results []models.WorkerResult) []models.Issue {
	sorted := make([]models.WorkerResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TaskID < sorted[j].TaskID })

	seen := make(map[string]bool)
	var merged []models.Issue
	for _, r := range sorted {
		for _, issue := range r.Findings.Issues {
			if issue.ID != "" {
				if seen[issue.ID] {
					continue
				}
				seen[issue.ID] = true
			}
			merged = append(merged, issue)
		}
	}
	return merged
}

func (c *Coordinator) summarize(ctx context.Context, in CoordinateInput, scored scoring.Result) (string, models.TokenUsage, error) {
	prompt := fmt.Sprintf(
		"Repository: %s\nTier: %s\nHealth score: %d\nRisk level: %s\nIssue count: %d\n\nWrite a concise executive summary of the audit findings.",
		in.RepoName, in.Tier.Name, scored.HealthScore, scored.RiskLevel, countIssues(in.WorkerResults),
	)

	resp, err := c.llm.Complete(ctx, llmclient.CompletionRequest{
		SystemPrompt:   in.Tier.CoordinatorSystemPrompt,
		Messages:       []llmclient.Message{{Role: "user", Content: prompt}},
		ThinkingBudget: in.Tier.ThinkingBudget.Tokens(),
	})
	if err != nil {
		return "", models.TokenUsage{}, apperrors.Transient(fmt.Errorf("pipeline.Coordinator: summary completion: %w", err))
	}

	usage := models.TokenUsage{
		InputTokens:  resp.TokenUsage.InputTokens,
		OutputTokens: resp.TokenUsage.OutputTokens,
		TotalTokens:  resp.TokenUsage.TotalTokens,
	}
	return strings.TrimSpace(resp.Text), usage, nil
}

func countIssues(results []models.WorkerResult) int {
	n := 0
	for _, r := range results {
		n += len(r.Findings.Issues)
	}
	return n
}

// topIssues returns the n highest-severity issues, most severe first,
// falling back to input order within the same severity.
func topIssues(issues []models.Issue, n int) []models.Issue {
	weight := map[models.Severity]int{
		models.SeverityCritical: 5, models.SeverityHigh: 4, models.SeverityWarning: 3,
		models.SeverityMedium: 2, models.SeverityInfo: 1, models.SeverityLow: 1,
	}
	sorted := make([]models.Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool { return weight[sorted[i].Severity] > weight[sorted[j].Severity] })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// suspiciousFiles lists distinct file paths touched by a critical or high
// severity issue, in first-seen order.
func suspiciousFiles(issues []models.Issue) []string {
	seen := make(map[string]bool)
	var files []string
	for _, issue := range issues {
		if issue.FilePath == nil {
			continue
		}
		if issue.Severity != models.SeverityCritical && issue.Severity != models.SeverityHigh {
			continue
		}
		if !seen[*issue.FilePath] {
			seen[*issue.FilePath] = true
			files = append(files, *issue.FilePath)
		}
	}
	return files
}

// deriveTopStrengths is a light heuristic: report the absence of any
// critical issue as the headline strength when true, since the pipeline
// has no dedicated "positive findings" signal from workers.
func deriveTopStrengths(issues []models.Issue) []string {
	for _, issue := range issues {
		if issue.Severity == models.SeverityCritical {
			return nil
		}
	}
	return []string{"No critical issues found"}
}
