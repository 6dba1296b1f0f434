package cleanup

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/chunkstore"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/preflight"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/reasoning"
)

func TestService_RunAll_SweepsAllThreeStores(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM preflights WHERE expires_at < now()`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_records WHERE created_at < $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM reasoning_sessions`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cfg := &config.RetentionConfig{
		PreflightTTL:        time.Hour,
		AuditRetentionDays:  90,
		ReasoningSessionTTL: 30 * 24 * time.Hour,
		CleanupInterval:     time.Hour,
	}
	svc := NewService(cfg, preflight.NewStore(db), chunkstore.NewStore(db), reasoning.NewStore(db))
	svc.runAll(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_RunAll_ContinuesPastIndividualFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM preflights WHERE expires_at < now()`)).
		WillReturnError(assert.AnError)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_records WHERE created_at < $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM reasoning_sessions`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := &config.RetentionConfig{
		PreflightTTL:        time.Hour,
		AuditRetentionDays:  90,
		ReasoningSessionTTL: 30 * 24 * time.Hour,
		CleanupInterval:     time.Hour,
	}
	svc := NewService(cfg, preflight.NewStore(db), chunkstore.NewStore(db), reasoning.NewStore(db))
	svc.runAll(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_StartStop_RunsImmediatelyThenStopsCleanly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM preflights WHERE expires_at < now()`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM audit_records WHERE created_at < $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM reasoning_sessions`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := &config.RetentionConfig{
		PreflightTTL:        time.Hour,
		AuditRetentionDays:  90,
		ReasoningSessionTTL: 30 * 24 * time.Hour,
		CleanupInterval:     time.Hour,
	}
	svc := NewService(cfg, preflight.NewStore(db), chunkstore.NewStore(db), reasoning.NewStore(db))

	svc.Start(context.Background())
	svc.Stop()

	assert.NoError(t, mock.ExpectationsWereMet())
}
