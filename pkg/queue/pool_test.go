package queue

import (
	"context"
	"testing"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_JobCancellationRegistry(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.DefaultQueueConfig()
	pool := NewWorkerPool("pod-1", db, cfg, nil)

	cancelled := false
	_, cancel := context.WithCancel(context.Background())
	pool.RegisterJob("job-1", func() { cancelled = true; cancel() })

	ok := pool.CancelJob("job-1")
	assert.True(t, ok)
	assert.True(t, cancelled)

	pool.UnregisterJob("job-1")
	ok = pool.CancelJob("job-1")
	assert.False(t, ok, "unregistered job should no longer be cancellable on this pod")
}

func TestWorkerPool_CancelJob_UnknownID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.DefaultQueueConfig()
	pool := NewWorkerPool("pod-1", db, cfg, nil)
	assert.False(t, pool.CancelJob("does-not-exist"))
}

func TestWorkerPool_Health_ReflectsWorkerCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.DefaultQueueConfig()
	pool := NewWorkerPool("pod-1", db, cfg, nil)

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	health := pool.Health()
	assert.True(t, health.DBReachable)
	assert.Equal(t, "pod-1", health.PodID)
	assert.Equal(t, 0, health.TotalWorkers)
}
