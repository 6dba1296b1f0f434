package chunkstore_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/chunkstore"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/database"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStore(t *testing.T) (*chunkstore.Store, *database.Client) {
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pgContainer) })

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

	return chunkstore.NewStore(client.DB()), client
}

// seedAuditRecord inserts the preflight/job/audit_records scaffold an audit
// result belongs to.
func seedAuditRecord(t *testing.T, client *database.Client) string {
	ctx := context.Background()
	db := client.DB()

	_, err := db.ExecContext(ctx, `
		INSERT INTO preflights (id, repo_url, owner, repo, default_branch, fingerprint, fetch_strategy, expires_at)
		VALUES ('pf-1', 'https://github.com/a/b', 'a', 'b', 'main', 'fp1', 'public', now() + interval '1 hour')
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)

	jobID := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO jobs (id, preflight_id, tier, status, max_attempts)
		VALUES ($1, 'pf-1', 'security', 'completed', 3)`, jobID)
	require.NoError(t, err)

	auditID := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_records (id, job_id, repo_url, tier, health_score, summary)
		VALUES ($1, $2, 'https://github.com/a/b', 'security', 90, 'ok')`, auditID, jobID)
	require.NoError(t, err)

	return auditID
}

func TestStore_StoreLoad_InlineRoundTrip(t *testing.T) {
	s, client := newTestStore(t)
	auditID := seedAuditRecord(t, client)

	issues := []models.Issue{
		{ID: "1", Severity: models.SeverityHigh, Category: "sec", Title: "t1", Description: "d1"},
		{ID: "2", Severity: models.SeverityLow, Category: "perf", Title: "t2", Description: "d2"},
	}

	n, err := s.StoreAuditResults(context.Background(), auditID, issues, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	got, err := s.LoadAuditResults(context.Background(), auditID)
	require.NoError(t, err)
	require.Equal(t, issues, got.Issues)
	require.Equal(t, "v", got.ExtraData["k"])
}

func TestStore_StoreLoad_ChunkedRoundTrip(t *testing.T) {
	s, client := newTestStore(t)
	auditID := seedAuditRecord(t, client)

	// Enough issues with enough bulk to exceed the 100 KiB inline threshold.
	issues := make([]models.Issue, 2000)
	desc := strings.Repeat("d", 200)
	for i := range issues {
		issues[i] = models.Issue{ID: "issue", Severity: models.SeverityMedium, Category: "c", Title: "t", Description: desc}
	}

	n, err := s.StoreAuditResults(context.Background(), auditID, issues, map[string]any{"note": "big"})
	require.NoError(t, err)
	require.Greater(t, n, 1, "large issue sets must be split across multiple chunks")

	got, err := s.LoadAuditResults(context.Background(), auditID)
	require.NoError(t, err)
	require.Len(t, got.Issues, len(issues), "chunk reassembly must be lossless and order-preserving")
	require.Equal(t, "big", got.ExtraData["note"])
}

func TestStore_Load_CorruptedWhenChunkedButNoChunksExist(t *testing.T) {
	s, client := newTestStore(t)
	auditID := seedAuditRecord(t, client)
	ctx := context.Background()

	_, err := client.DB().ExecContext(ctx,
		`UPDATE audit_records SET results_chunked = true WHERE id = $1`, auditID)
	require.NoError(t, err)

	_, err = s.LoadAuditResults(ctx, auditID)
	require.ErrorIs(t, err, apperrors.ErrCorrupted)
}
