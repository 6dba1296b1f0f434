package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/chunkstore"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/google/uuid"
)

// AuditRepository persists the Coordinator's normalized Report as one
// audit_records row, deferring to chunkstore for large issue lists, and
// answers "prior audits for this repo" for the navigation list spec.md
// §4.5 Phase 3 asks the coordinator to return alongside a fresh report.
type AuditRepository struct {
	db     *sql.DB
	chunks *chunkstore.Store
}

// NewAuditRepository wraps a pooled *sql.DB and the chunk store used for
// oversized issue lists.
func NewAuditRepository(db *sql.DB, chunks *chunkstore.Store) *AuditRepository {
	return &AuditRepository{db: db, chunks: chunks}
}

// Create inserts a new audit_records row for report and persists its
// issues (inline or chunked, decided by chunkstore.StoreAuditResults).
func (r *AuditRepository) Create(ctx context.Context, jobID, repoURL, tier string, userID *string, report *models.Report, estimatedTokens *int) (*models.AuditRecord, error) {
	record := &models.AuditRecord{
		ID:              uuid.NewString(),
		JobID:           jobID,
		UserID:          userID,
		RepoURL:         repoURL,
		Tier:            tier,
		HealthScore:     report.HealthScore,
		Summary:         report.Summary,
		Issues:          report.Issues,
		TotalTokens:     0,
		EstimatedTokens: estimatedTokens,
	}

	extraData := reportExtraData(report)

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO audit_records (id, job_id, user_id, repo_url, tier, health_score, summary, issues, extra_data, total_tokens, estimated_tokens, results_chunked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '[]', NULL, $8, $9, false)
		RETURNING created_at`,
		record.ID, record.JobID, record.UserID, record.RepoURL, record.Tier,
		record.HealthScore, record.Summary, record.TotalTokens, record.EstimatedTokens,
	).Scan(&record.CreatedAt)
	if err != nil {
		return nil, apperrors.Persistence("pipeline.AuditRepository.Create", fmt.Errorf("inserting audit record: %w", err))
	}

	chunked, err := r.chunks.StoreAuditResults(ctx, record.ID, report.Issues, extraData)
	if err != nil {
		return nil, err
	}
	record.ResultsChunked = chunked > 0
	record.ExtraData = extraData

	return record, nil
}

// SetTotalTokens updates the audit's total token ledger once the pipeline
// has the combined planner+workers+coordinator usage.
func (r *AuditRepository) SetTotalTokens(ctx context.Context, auditID string, totalTokens int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE audit_records SET total_tokens = $2 WHERE id = $1`, auditID, totalTokens)
	if err != nil {
		return apperrors.Persistence("pipeline.AuditRepository.SetTotalTokens", fmt.Errorf("updating total_tokens: %w", err))
	}
	return nil
}

// PriorAudits returns prior audits for repoURL, most recent first,
// excluding excludeID (the audit just created), for the coordinator's
// navigation list.
func (r *AuditRepository) PriorAudits(ctx context.Context, repoURL, excludeID string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, user_id, repo_url, tier, health_score, summary, total_tokens, estimated_tokens, results_chunked, created_at
		FROM audit_records
		WHERE repo_url = $1 AND id != $2
		ORDER BY created_at DESC
		LIMIT $3`, repoURL, excludeID, limit)
	if err != nil {
		return nil, apperrors.Persistence("pipeline.AuditRepository.PriorAudits", fmt.Errorf("querying prior audits: %w", err))
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.UserID, &rec.RepoURL, &rec.Tier,
			&rec.HealthScore, &rec.Summary, &rec.TotalTokens, &rec.EstimatedTokens,
			&rec.ResultsChunked, &rec.CreatedAt); err != nil {
			return nil, apperrors.Persistence("pipeline.AuditRepository.PriorAudits", fmt.Errorf("scanning audit record: %w", err))
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func reportExtraData(report *models.Report) map[string]any {
	extra := map[string]any{}
	if len(report.TopStrengths) > 0 {
		extra["top_strengths"] = report.TopStrengths
	}
	if len(report.TopIssues) > 0 {
		extra["top_issues"] = report.TopIssues
	}
	if len(report.SuspiciousFiles) > 0 {
		extra["suspicious_files"] = report.SuspiciousFiles
	}
	if len(report.CategoryAssessments) > 0 {
		extra["category_assessments"] = report.CategoryAssessments
	}
	if report.SeniorDeveloperAssessment != "" {
		extra["senior_developer_assessment"] = report.SeniorDeveloperAssessment
	}
	if report.OverallVerdict != "" {
		extra["overall_verdict"] = report.OverallVerdict
	}
	extra["risk_level"] = report.RiskLevel
	extra["production_ready"] = report.ProductionReady
	extra["tier"] = report.Tier
	if len(extra) == 0 {
		return nil
	}
	return extra
}
