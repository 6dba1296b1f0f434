package reasoning

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePgError struct{ code string }

func (e *fakePgError) Error() string  { return "pg error: " + e.code }
func (e *fakePgError) SQLState() string { return e.code }

func TestStore_CreateSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reasoning_sessions`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	session, err := s.CreateSession(context.Background(), "audit repo foo/bar at security tier", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AppendStep_RejectsDuplicateStepNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reasoning_steps`)).
		WillReturnError(&fakePgError{code: "23505"})
	mock.ExpectRollback()

	err = s.AppendStep(context.Background(), &models.ReasoningStep{
		ID: "step-1", SessionID: "sess-1", StepNumber: 3, Reasoning: "looking at files",
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AppendStep_RollsUpSessionTotals(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reasoning_steps`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE reasoning_sessions`)).
		WithArgs("sess-1", 150).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.AppendStep(context.Background(), &models.ReasoningStep{
		SessionID: "sess-1", StepNumber: 1, Reasoning: "thinking",
		TokenUsage: models.TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetSession_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, task_description`)).
		WillReturnError(sql.ErrNoRows)

	_, err = s.GetSession(context.Background(), "missing")
	require.Error(t, err)
}

func TestStore_LatestCheckpoint_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT step_number, context_snapshot`)).
		WillReturnError(sql.ErrNoRows)

	_, err = s.LatestCheckpoint(context.Background(), "sess-1")
	require.Error(t, err)
}
