package queue

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Enqueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := NewQueue(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO jobs`)).
		WithArgs(sqlmock.AnyArg(), "pf-1", "security", sqlmock.AnyArg(), 5, 3).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	job, err := q.Enqueue(context.Background(), "pf-1", "security", nil, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, "pf-1", job.PreflightID)
	assert.Equal(t, "security", job.Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_Enqueue_ConflictOnActiveJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := NewQueue(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO jobs`)).
		WillReturnError(&fakePgError{code: "23505"})

	_, err = q.Enqueue(context.Background(), "pf-1", "security", nil, 5, 3)
	require.Error(t, err)
}

func TestQueue_Claim_NoJobsAvailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := NewQueue(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err = q.Claim(context.Background(), "worker-1", time.Minute)
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestQueue_RecoverStale_RequeuesWithinAttemptBudget(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := NewQueue(db)
	threshold := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, attempts, max_attempts, locked_by`)).
		WithArgs(threshold).
		WillReturnRows(sqlmock.NewRows([]string{"id", "attempts", "max_attempts", "locked_by"}).
			AddRow("job-1", 1, 3, "pod-a-worker-0").
			AddRow("job-2", 3, 3, "pod-b-worker-1"))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE jobs`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE jobs`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	recovered, failed, err := q.RecoverStale(context.Background(), threshold)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 1, failed)
}

// fakePgError mimics a pgx/pgconn error exposing SQLState() for the
// unique-violation detection path.
type fakePgError struct{ code string }

func (e *fakePgError) Error() string   { return "pg error " + e.code }
func (e *fakePgError) SQLState() string { return e.code }
