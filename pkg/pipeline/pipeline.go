package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/preflight"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/queue"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/tools"
)

// StatusWriter is the subset of statuschannel.Store the pipeline drives
// directly, kept as an interface here to avoid a pkg/pipeline ->
// pkg/statuschannel import cycle risk and to keep this package's tests
// independent of a real Postgres LISTEN/NOTIFY setup.
type StatusWriter interface {
	Open(ctx context.Context, preflightID, jobID, userID, tier string) error
	AppendLog(ctx context.Context, preflightID, line string, progress int, currentStep string) error
	SetPlanData(ctx context.Context, preflightID string, plan *models.Plan) error
	AddTokenUsage(ctx context.Context, preflightID, phase string, usage models.TokenUsage) error
	SetWorkerProgress(ctx context.Context, preflightID string, progress []models.WorkerProgress) error
	Complete(ctx context.Context, preflightID string, report *models.Report) error
	Fail(ctx context.Context, preflightID, errMessage, errDetails string) error
}

// Pipeline is the queue.JobExecutor that drives the three-phase
// planner/workers/coordinator audit for one job, writing progress to the
// status channel as it goes rather than only at the end.
type Pipeline struct {
	preflights  *preflight.Store
	tiers       *config.TierRegistry
	planner     *Planner
	workers     *Workers
	coordinator *Coordinator
	audits      *AuditRepository
	status      StatusWriter
}

// New wires one Pipeline from its component phases.
func New(preflights *preflight.Store, tiers *config.TierRegistry, planner *Planner, workers *Workers, coordinator *Coordinator, audits *AuditRepository, status StatusWriter) *Pipeline {
	return &Pipeline{
		preflights:  preflights,
		tiers:       tiers,
		planner:     planner,
		workers:     workers,
		coordinator: coordinator,
		audits:      audits,
		status:      status,
	}
}

// Execute implements queue.JobExecutor. It owns the whole job lifecycle:
// plan, fan out workers, coordinate, persist, and write every
// intermediate state transition to the status channel along the way.
func (p *Pipeline) Execute(ctx context.Context, job *models.Job) *queue.ExecutionResult {
	log := slog.With("job_id", job.ID, "preflight_id", job.PreflightID, "tier", job.Tier)

	userID := ""
	if job.UserID != nil {
		userID = *job.UserID
	}
	if err := p.status.Open(ctx, job.PreflightID, job.ID, userID, job.Tier); err != nil {
		log.Error("failed to open status row", "error", err)
	}

	pf, err := p.preflights.Get(ctx, job.PreflightID)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("loading preflight: %w", err))
	}

	tier, err := p.tiers.Get(config.TierName(job.Tier))
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("resolving tier: %w", err))
	}

	_ = p.status.AppendLog(ctx, job.PreflightID, "planning repository structure", 5, "planning")
	planResult, err := p.planner.Plan(ctx, pf, tier)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("planner phase: %w", err))
	}
	_ = p.status.SetPlanData(ctx, job.PreflightID, planResult.Plan)
	_ = p.status.AddTokenUsage(ctx, job.PreflightID, "planner", planResult.TokenUsage)
	_ = p.status.AppendLog(ctx, job.PreflightID, fmt.Sprintf("plan ready: %d task(s)", len(planResult.Plan.Tasks)), 15, "workers")

	toolCtx := tools.Context{Context: ctx, PreflightID: job.PreflightID, JobID: job.ID, UserID: userID}
	if job.UserID != nil {
		toolCtx.UserID = *job.UserID
	}

	totalTasks := len(planResult.Plan.Tasks)
	workerResults := p.workers.Run(ctx, pf, tier, planResult.Plan, toolCtx, func(snapshot []models.WorkerProgress) {
		done := 0
		for _, wp := range snapshot {
			if wp.CompletedAt != nil {
				done++
			}
		}
		progress := 15
		if totalTasks > 0 {
			progress = 15 + int(70*float64(done)/float64(totalTasks))
		}
		_ = p.status.SetWorkerProgress(ctx, job.PreflightID, snapshot)
		_ = p.status.AppendLog(ctx, job.PreflightID, fmt.Sprintf("worker task %d/%d complete", done, totalTasks), progress, "workers")
	})

	var workersUsage models.TokenUsage
	for _, r := range workerResults {
		workersUsage.Add(r.TokenUsage)
	}
	_ = p.status.AddTokenUsage(ctx, job.PreflightID, "workers", workersUsage)

	_ = p.status.AppendLog(ctx, job.PreflightID, "synthesizing findings", 85, "coordinating")
	coordResult, err := p.coordinator.Coordinate(ctx, CoordinateInput{
		RepoName:      pf.RepoURL,
		Tier:          tier,
		WorkerResults: workerResults,
		PlannerUsage:  planResult.TokenUsage,
	})
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("coordinator phase: %w", err))
	}
	_ = p.status.AddTokenUsage(ctx, job.PreflightID, "coordinator", coordResult.TokenUsage)

	totalTokens := planResult.TokenUsage.TotalTokens + workersUsage.TotalTokens + coordResult.TokenUsage.TotalTokens
	estimated := pf.Stats.FileCount * 500

	record, err := p.audits.Create(ctx, job.ID, pf.RepoURL, job.Tier, job.UserID, coordResult.Report, &estimated)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("persisting audit: %w", err))
	}
	if err := p.audits.SetTotalTokens(ctx, record.ID, totalTokens); err != nil {
		log.Warn("failed to record total token usage", "error", err)
	}

	if _, err := p.audits.PriorAudits(ctx, pf.RepoURL, record.ID, 20); err != nil {
		log.Warn("failed to load prior audits", "error", err)
	}

	if err := p.status.Complete(ctx, job.PreflightID, coordResult.Report); err != nil {
		log.Error("failed to write completion status", "error", err)
	}

	log.Info("job completed", "health_score", coordResult.Report.HealthScore, "issues", len(coordResult.Report.Issues))
	return &queue.ExecutionResult{Status: models.JobStatusCompleted}
}

func (p *Pipeline) fail(ctx context.Context, job *models.Job, err error) *queue.ExecutionResult {
	slog.Error("pipeline job failed", "job_id", job.ID, "preflight_id", job.PreflightID, "error", err)
	_ = p.status.Fail(ctx, job.PreflightID, "audit failed", err.Error())
	return &queue.ExecutionResult{Status: models.JobStatusFailed, Error: err}
}
