package preflight

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Create_RejectsAnonymousPrivateRepo(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	_, err = s.Create(context.Background(), "https://github.com/a/b", "a", "b", "main",
		nil, models.RepoStats{}, "fp", true, models.FetchStrategyPublic, nil, nil)
	require.Error(t, err)
}

func TestStore_Create_RejectsAuthenticatedWithoutAccountID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	_, err = s.Create(context.Background(), "https://github.com/a/b", "a", "b", "main",
		nil, models.RepoStats{}, "fp", false, models.FetchStrategyAuthenticated, nil, nil)
	require.Error(t, err)
}

func TestStore_Create_UpsertsOnPublicRepoURL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	now := time.Now()
	repoMapJSON, _ := json.Marshal([]models.RepoMapEntry{})
	statsJSON, _ := json.Marshal(models.RepoStats{})

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO preflights`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("pf-1"))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, repo_url, owner, repo, default_branch`)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "repo_url", "owner", "repo", "default_branch", "repo_map", "stats", "fingerprint",
			"is_private", "fetch_strategy", "github_account_id", "token_valid", "user_id",
			"file_count", "created_at", "updated_at", "expires_at",
		}).AddRow("pf-1", "https://github.com/a/b", "a", "b", "main", repoMapJSON, statsJSON, "fp",
			false, "public", nil, false, nil, 0, now, now, now.Add(TTL)))

	p, err := s.Create(context.Background(), "https://github.com/a/b", "a", "b", "main",
		nil, models.RepoStats{}, "fp", false, models.FetchStrategyPublic, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "pf-1", p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CleanupExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM preflights WHERE expires_at < now()`)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
