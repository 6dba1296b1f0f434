package tools

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/chunkstore"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/preflight"
	"github.com/google/uuid"
)

// allowedTables is the allow-list query_db may read from. Grounded on
// SPEC_FULL.md §4.7: "Database (allow-listed tables only)".
var allowedTables = map[string][]string{
	"preflights":     {"id", "repo_url", "owner", "repo", "default_branch", "fingerprint", "is_private", "fetch_strategy", "file_count", "created_at", "expires_at"},
	"jobs":           {"id", "preflight_id", "tier", "status", "priority", "attempts", "created_at", "started_at", "completed_at"},
	"audit_records":  {"id", "job_id", "repo_url", "tier", "health_score", "summary", "total_tokens", "results_chunked", "created_at"},
	"statuses":       {"preflight_id", "job_id", "tier", "status", "progress", "current_step", "started_at", "completed_at"},
}

// QueryDBTool implements query_db against the allow-listed tables only.
type QueryDBTool struct{ db *sql.DB }

func NewQueryDBTool(db *sql.DB) *QueryDBTool { return &QueryDBTool{db: db} }

func (t *QueryDBTool) Name() string        { return "query_db" }
func (t *QueryDBTool) Description() string { return "Query one of the allow-listed tables with simple equality filters." }
func (t *QueryDBTool) RequiredPermission() Permission { return PermissionRead }
func (t *QueryDBTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"table"},
		"properties": map[string]any{
			"table":   map[string]any{"type": "string"},
			"filters": map[string]any{"type": "object"},
			"select":  map[string]any{"type": "array"},
			"limit":   map[string]any{"type": "integer"},
			"orderBy": map[string]any{"type": "string"},
		},
	}
}

func (t *QueryDBTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	table, _ := input["table"].(string)
	allowedCols, ok := allowedTables[table]
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("table %q is not allow-listed", table)}, nil
	}

	selectCols := allowedCols
	if rawSelect, ok := input["select"].([]any); ok && len(rawSelect) > 0 {
		selectCols = nil
		for _, c := range rawSelect {
			col, _ := c.(string)
			if containsString(allowedCols, col) {
				selectCols = append(selectCols, col)
			}
		}
		if len(selectCols) == 0 {
			return &Result{Success: false, Error: "no requested columns are allowed for this table"}, nil
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectCols, ", "), table)

	var args []any
	if filters, ok := input["filters"].(map[string]any); ok && len(filters) > 0 {
		var clauses []string
		i := 1
		for col, val := range filters {
			if !containsString(allowedCols, col) {
				return &Result{Success: false, Error: fmt.Sprintf("filter column %q is not allowed", col)}, nil
			}
			clauses = append(clauses, fmt.Sprintf("%s = $%d", col, i))
			args = append(args, val)
			i++
		}
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	if orderBy, ok := input["orderBy"].(string); ok && containsString(allowedCols, orderBy) {
		query += " ORDER BY " + orderBy
	}

	limit := 100
	if rawLimit, ok := input["limit"].(float64); ok && rawLimit > 0 && rawLimit <= 500 {
		limit = int(rawLimit)
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Persistence("tools.query_db", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperrors.Persistence("tools.query_db", err)
	}

	var records []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.Persistence("tools.query_db", err)
		}
		record := make(map[string]any, len(cols))
		for i, c := range cols {
			record[c] = values[i]
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("tools.query_db", err)
	}

	return &Result{Success: true, Data: map[string]any{"rows": records, "count": len(records)}}, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// SaveAuditResultsTool implements save_audit_results, the reasoning
// loop's direct path to persisting a report (independent of the
// coordinator's own persistence path in pkg/pipeline).
type SaveAuditResultsTool struct {
	db     *sql.DB
	chunks *chunkstore.Store
}

func NewSaveAuditResultsTool(db *sql.DB, chunks *chunkstore.Store) *SaveAuditResultsTool {
	return &SaveAuditResultsTool{db: db, chunks: chunks}
}

func (t *SaveAuditResultsTool) Name() string        { return "save_audit_results" }
func (t *SaveAuditResultsTool) Description() string { return "Persist an audit report (health score, summary, issues) for the current job." }
func (t *SaveAuditResultsTool) RequiredPermission() Permission { return PermissionWrite }
func (t *SaveAuditResultsTool) InputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"repoUrl", "healthScore", "summary", "issues", "tier"},
		"properties": map[string]any{
			"repoUrl":     map[string]any{"type": "string"},
			"healthScore": map[string]any{"type": "integer"},
			"summary":     map[string]any{"type": "string"},
			"issues":      map[string]any{"type": "array"},
			"tier":        map[string]any{"type": "string"},
			"totalTokens": map[string]any{"type": "integer"},
			"extraData":   map[string]any{"type": "object"},
		},
	}
}

// Execute refuses a missing repoUrl even when the context has a preflight,
// unless the preflight itself supplies one — per SPEC_FULL.md §4.7, the
// writer tool must not silently infer repoUrl from context.
func (t *SaveAuditResultsTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	repoURL, _ := input["repoUrl"].(string)
	if repoURL == "" {
		return &Result{Success: false, Error: "repoUrl is required and was not supplied"}, nil
	}
	if ctx.JobID == "" {
		return &Result{Success: false, Error: "no active job in context to attach this audit to"}, nil
	}

	healthScoreF, _ := input["healthScore"].(float64)
	summary, _ := input["summary"].(string)
	tier, _ := input["tier"].(string)
	totalTokensF, _ := input["totalTokens"].(float64)

	rawIssues, _ := input["issues"].([]any)
	issues := make([]models.Issue, 0, len(rawIssues))
	for _, raw := range rawIssues {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		issue := models.Issue{
			Severity:    models.Severity(stringField(m, "severity")),
			Category:    stringField(m, "category"),
			Title:       stringField(m, "title"),
			Description: stringField(m, "description"),
		}
		issues = append(issues, issue)
	}

	var extraData map[string]any
	if raw, ok := input["extraData"].(map[string]any); ok {
		extraData = raw
	}

	auditID := uuid.NewString()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO audit_records (id, job_id, user_id, repo_url, tier, health_score, summary, total_tokens)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		auditID, ctx.JobID, ctx.UserID, repoURL, tier, int(healthScoreF), summary, int(totalTokensF),
	)
	if err != nil {
		return nil, apperrors.Persistence("tools.save_audit_results", err)
	}

	if _, err := t.chunks.StoreAuditResults(ctx, auditID, issues, extraData); err != nil {
		return nil, err
	}

	return &Result{Success: true, Data: map[string]any{"audit_id": auditID}}, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// GetPreflightTool implements get_preflight. When preflightId is omitted
// it falls back to the context's bound preflight (if any).
type GetPreflightTool struct{ store *preflight.Store }

func NewGetPreflightTool(store *preflight.Store) *GetPreflightTool {
	return &GetPreflightTool{store: store}
}

func (t *GetPreflightTool) Name() string        { return "get_preflight" }
func (t *GetPreflightTool) Description() string { return "Fetch a preflight's cached repository snapshot." }
func (t *GetPreflightTool) RequiredPermission() Permission { return PermissionRead }
func (t *GetPreflightTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"preflightId": map[string]any{"type": "string"}},
	}
}

func (t *GetPreflightTool) Execute(ctx *Context, input map[string]any) (*Result, error) {
	id, _ := input["preflightId"].(string)
	if id == "" {
		id = ctx.PreflightID
	}
	if id == "" {
		return &Result{Success: false, Error: "preflightId is required and no preflight is bound to this context"}, nil
	}

	pf, err := t.store.Get(ctx, id)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Data: pf}, nil
}
