package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/database"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/queue"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestQueue(t *testing.T) (*queue.Queue, *database.Client) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test",
		SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 5,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.DB().ExecContext(ctx, `
		INSERT INTO preflights (id, repo_url, owner, repo, default_branch, fingerprint, fetch_strategy, expires_at)
		VALUES ('pf-1', 'https://github.com/a/b', 'a', 'b', 'main', 'fp1', 'public', now() + interval '1 hour')`)
	require.NoError(t, err)

	return queue.NewQueue(client.DB()), client
}

func TestQueue_EnqueueClaimComplete(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "pf-1", "security", nil, 5, 3)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, job.Status)

	claimed, err := q.Claim(ctx, "pod-1-worker-0", time.Minute)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	require.Equal(t, models.JobStatusProcessing, claimed.Status)
	require.Equal(t, 1, claimed.Attempts)

	_, err = q.Claim(ctx, "pod-1-worker-1", time.Minute)
	require.ErrorIs(t, err, queue.ErrNoJobsAvailable)

	require.NoError(t, q.Complete(ctx, job.ID))

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestQueue_OneActiveJobPerPreflight(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "pf-1", "security", nil, 5, 3)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "pf-1", "performance", nil, 5, 3)
	require.Error(t, err, "a second active job for the same preflight must be rejected")
}

func TestQueue_RecoverStale_EndToEnd(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "pf-1", "security", nil, 5, 2)
	require.NoError(t, err)

	// Claim with a lease that expires immediately (simulating a crashed worker).
	_, err = q.Claim(ctx, "pod-dead-worker-0", -time.Minute)
	require.NoError(t, err)

	recovered, failed, err := q.RecoverStale(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
	require.Equal(t, 0, failed)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, got.Status)
	require.NotNil(t, got.LastError)
}

func TestQueue_RecoverStale_FailsAfterMaxAttempts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "pf-1", "security", nil, 5, 1)
	require.NoError(t, err)

	_, err = q.Claim(ctx, "pod-dead-worker-0", -time.Minute)
	require.NoError(t, err)

	recovered, failed, err := q.RecoverStale(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, recovered)
	require.Equal(t, 1, failed)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, got.Status)
}

func TestQueue_ClaimBatch(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	for i, repo := range []string{"pf-1", "pf-2", "pf-3"} {
		if repo != "pf-1" {
			_, err := client.DB().ExecContext(ctx, `
				INSERT INTO preflights (id, repo_url, owner, repo, default_branch, fingerprint, fetch_strategy, expires_at)
				VALUES ($1, $2, 'a', 'b', 'main', $3, 'public', now() + interval '1 hour')`,
				repo, "https://github.com/a/b"+string(rune('0'+i)), "fp"+string(rune('0'+i)))
			require.NoError(t, err)
		}
		_, err := q.Enqueue(ctx, repo, "security", nil, 5, 3)
		require.NoError(t, err)
	}

	jobs, err := q.ClaimBatch(ctx, "pod-1-worker-0", 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, models.JobStatusProcessing, j.Status)
	}

	remaining, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, remaining)
}

func TestQueue_ResetStuckPending(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "pf-1", "security", nil, 5, 3)
	require.NoError(t, err)

	_, err = client.DB().ExecContext(ctx,
		`UPDATE jobs SET created_at = now() - interval '20 minutes' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	n, err := q.ResetStuckPending(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
