package preflight_test

import (
	"context"
	"testing"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/database"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/preflight"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStore(t *testing.T) *preflight.Store {
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

	return preflight.NewStore(client.DB())
}

func TestStore_CreateGet_PublicRepo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	repoMap := []models.RepoMapEntry{{Path: "main.go", Size: 120, Type: "file"}}
	stats := models.RepoStats{FileCount: 1, TotalSizeBytes: 120}

	p, err := s.Create(ctx, "https://github.com/a/b", "a", "b", "main",
		repoMap, stats, "fp1", false, models.FetchStrategyPublic, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.FileCount)
	require.WithinDuration(t, time.Now().Add(preflight.TTL), p.ExpiresAt, time.Minute)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.RepoURL, got.RepoURL)
	require.Equal(t, repoMap, got.RepoMap)
}

func TestStore_Create_UpsertRefreshesExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, "https://github.com/a/b", "a", "b", "main",
		nil, models.RepoStats{}, "fp1", false, models.FetchStrategyPublic, nil, nil)
	require.NoError(t, err)

	second, err := s.Create(ctx, "https://github.com/a/b", "a", "b", "develop",
		nil, models.RepoStats{}, "fp2", false, models.FetchStrategyPublic, nil, nil)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "upsert on the same public repo URL must reuse the same row")
	require.Equal(t, "develop", second.DefaultBranch)
	require.Equal(t, "fp2", second.Fingerprint)
}

func TestStore_Create_DistinctUsersGetDistinctRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userA, userB := "user-a", "user-b"

	a, err := s.Create(ctx, "https://github.com/a/b", "a", "b", "main",
		nil, models.RepoStats{}, "fp1", true, models.FetchStrategyAuthenticated, &userA, strPtr("gh-1"))
	require.NoError(t, err)

	b, err := s.Create(ctx, "https://github.com/a/b", "a", "b", "main",
		nil, models.RepoStats{}, "fp2", true, models.FetchStrategyAuthenticated, &userB, strPtr("gh-2"))
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID, "distinct users must each get their own snapshot of the same repo URL")
}

func TestStore_CleanupExpired_DeletesOnlyExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "https://github.com/a/b", "a", "b", "main",
		nil, models.RepoStats{}, "fp1", false, models.FetchStrategyPublic, nil, nil)
	require.NoError(t, err)

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n, "a freshly created preflight is not yet expired")
}

func strPtr(s string) *string { return &s }
