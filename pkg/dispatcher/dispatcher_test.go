package dispatcher

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/queue"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_Submit_EnqueuesAndWakes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO jobs`)).
		WithArgs(sqlmock.AnyArg(), "pf-1", "security", sqlmock.AnyArg(), 5, 3).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	q := queue.NewQueue(db)
	cfg := config.DefaultQueueConfig()
	pool := queue.NewWorkerPool("pod-1", db, cfg, nil)
	// No Start() call: zero workers means Wake/ClaimAndProcess are no-ops,
	// so Submit only needs to exercise Enqueue here.
	d := New(q, pool, 0, 3)

	job, err := d.Submit(context.Background(), "pf-1", "security", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, "pf-1", job.PreflightID)
	assert.Equal(t, "security", job.Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatcher_Submit_DefaultMaxAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO jobs`)).
		WithArgs(sqlmock.AnyArg(), "pf-2", "shape", sqlmock.AnyArg(), 0, defaultMaxAttempts).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	q := queue.NewQueue(db)
	cfg := config.DefaultQueueConfig()
	pool := queue.NewWorkerPool("pod-1", db, cfg, nil)
	d := New(q, pool, 0, 0) // maxAttempts <= 0 falls back to defaultMaxAttempts

	_, err = d.Submit(context.Background(), "pf-2", "shape", nil, 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatcher_Health_ProxiesPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	q := queue.NewQueue(db)
	cfg := config.DefaultQueueConfig()
	pool := queue.NewWorkerPool("pod-1", db, cfg, nil)
	d := New(q, pool, 0, 3)

	health := d.Health()
	assert.True(t, health.DBReachable)
	assert.Equal(t, "pod-1", health.PodID)
}

func TestDispatcher_Cancel_UnknownJob(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := queue.NewQueue(db)
	cfg := config.DefaultQueueConfig()
	pool := queue.NewWorkerPool("pod-1", db, cfg, nil)
	d := New(q, pool, 0, 3)

	assert.False(t, d.Cancel("does-not-exist"))
}
