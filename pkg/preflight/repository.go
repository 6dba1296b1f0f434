// Package preflight implements the durable preflight store (C1): cached
// repository snapshots that let the pipeline run an audit without
// re-fetching the file list. Grounded on the teacher's database/sql +
// pgx/v5 stdlib-driver repository pattern (pkg/database/client.go), the
// same style pkg/queue uses for its own repository.
package preflight

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/google/uuid"
)

// TTL is how long a preflight snapshot remains valid before CleanupExpired
// deletes it.
const TTL = 24 * time.Hour

// Store is the preflight repository, backed by the preflights table.
type Store struct {
	db *sql.DB
}

// NewStore wraps a pooled *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts (or upserts) a preflight snapshot. Upserts on the
// applicable uniqueness key: (repo_url, user_id) when userID is present,
// repo_url alone when userID is nil and the repo is public. expiresAt is
// always reset to now + TTL on upsert, refreshing the snapshot's lifetime.
func (s *Store) Create(ctx context.Context, repoURL, owner, repo, defaultBranch string, repoMap []models.RepoMapEntry, stats models.RepoStats, fingerprint string, isPrivate bool, fetchStrategy models.FetchStrategy, userID, githubAccountID *string) (*models.Preflight, error) {
	if fetchStrategy == models.FetchStrategyAuthenticated && githubAccountID == nil {
		return nil, apperrors.Validation("preflight.Create: authenticated fetch strategy requires a github account id")
	}

	repoMapJSON, err := json.Marshal(repoMap)
	if err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("preflight.Create: marshaling repo map: %v", err))
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("preflight.Create: marshaling stats: %v", err))
	}

	now := time.Now()
	expiresAt := now.Add(TTL)
	id := uuid.NewString()

	conflictTarget, err := conflictTarget(userID, isPrivate)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO preflights (
			id, repo_url, owner, repo, default_branch, repo_map, stats, fingerprint,
			is_private, fetch_strategy, github_account_id, token_valid, user_id,
			file_count, created_at, updated_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, $12, $13, $14, $14, $15)
		ON CONFLICT %s DO UPDATE SET
			owner = EXCLUDED.owner,
			repo = EXCLUDED.repo,
			default_branch = EXCLUDED.default_branch,
			repo_map = EXCLUDED.repo_map,
			stats = EXCLUDED.stats,
			fingerprint = EXCLUDED.fingerprint,
			is_private = EXCLUDED.is_private,
			fetch_strategy = EXCLUDED.fetch_strategy,
			github_account_id = EXCLUDED.github_account_id,
			file_count = EXCLUDED.file_count,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		RETURNING id`, conflictTarget),
		id, repoURL, owner, repo, defaultBranch, repoMapJSON, statsJSON, fingerprint,
		isPrivate, fetchStrategy, githubAccountID, userID,
		len(repoMap), now, expiresAt,
	)

	var resolvedID string
	if err := row.Scan(&resolvedID); err != nil {
		return nil, apperrors.Persistence("preflight.Create", fmt.Errorf("upserting preflight: %w", err))
	}

	return s.Get(ctx, resolvedID)
}

// conflictTarget resolves which partial unique index an upsert should
// target, matching the invariants on models.Preflight.
func conflictTarget(userID *string, isPrivate bool) (string, error) {
	if userID != nil {
		return "(repo_url, user_id) WHERE user_id IS NOT NULL", nil
	}
	if isPrivate {
		return "", apperrors.Validation("preflight.Create: anonymous preflight of a private repo has no uniqueness key")
	}
	return "(repo_url) WHERE user_id IS NULL AND is_private = false", nil
}

// Get fetches a preflight snapshot by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Preflight, error) {
	p, err := scanPreflight(s.db.QueryRowContext(ctx, `
		SELECT id, repo_url, owner, repo, default_branch, repo_map, stats, fingerprint,
		       is_private, fetch_strategy, github_account_id, token_valid, user_id,
		       file_count, created_at, updated_at, expires_at
		FROM preflights WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound(fmt.Sprintf("preflight.Get: preflight %s not found", id))
		}
		return nil, apperrors.Persistence("preflight.Get", err)
	}
	return p, nil
}

// CleanupExpired deletes every preflight whose TTL has passed, returning
// the number of rows removed. Cascades to jobs/statuses/audit_records
// derived from the deleted preflights via ON DELETE CASCADE.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM preflights WHERE expires_at < now()`)
	if err != nil {
		return 0, apperrors.Persistence("preflight.CleanupExpired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Persistence("preflight.CleanupExpired", err)
	}
	return int(n), nil
}

func scanPreflight(row *sql.Row) (*models.Preflight, error) {
	var p models.Preflight
	var repoMapJSON, statsJSON []byte
	var githubAccountID, userID sql.NullString

	err := row.Scan(
		&p.ID, &p.RepoURL, &p.Owner, &p.Repo, &p.DefaultBranch, &repoMapJSON, &statsJSON,
		&p.Fingerprint, &p.IsPrivate, &p.FetchStrategy, &githubAccountID, &p.TokenValid, &userID,
		&p.FileCount, &p.CreatedAt, &p.UpdatedAt, &p.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(repoMapJSON, &p.RepoMap); err != nil {
		return nil, fmt.Errorf("unmarshaling repo map: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &p.Stats); err != nil {
		return nil, fmt.Errorf("unmarshaling stats: %w", err)
	}
	if githubAccountID.Valid {
		p.GithubAccountID = &githubAccountID.String
	}
	if userID.Valid {
		p.UserID = &userID.String
	}

	return &p, nil
}
