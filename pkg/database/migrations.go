package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These enable efficient full-text search on an audit's summary and a
// job's last error, neither of which is worth a dedicated migration-managed
// index definition since the expression (to_tsvector) can't be declared
// IF NOT EXISTS inline in a plain CREATE TABLE.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_audit_records_summary_gin
		ON audit_records USING gin(to_tsvector('english', summary))`)
	if err != nil {
		return fmt.Errorf("failed to create summary GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_jobs_last_error_gin
		ON jobs USING gin(to_tsvector('english', COALESCE(last_error, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create last_error GIN index: %w", err)
	}

	return nil
}
