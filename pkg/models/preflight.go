// Package models contains the domain entities shared across the audit
// orchestration core: preflights, jobs, status rows, reasoning state,
// and audit results.
package models

import "time"

// FetchStrategy describes how the source files behind a Preflight were
// (or must be) retrieved.
type FetchStrategy string

const (
	FetchStrategyPublic        FetchStrategy = "public"
	FetchStrategyAuthenticated FetchStrategy = "authenticated"
)

// RepoMapEntry is one opaque entry in a Preflight's file map. Only Path and
// Size are interpreted by the core; Type and URL are passed through.
type RepoMapEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// RepoStats summarizes a repository snapshot at preflight time.
type RepoStats struct {
	FileCount       int            `json:"file_count"`
	TotalSizeBytes  int64          `json:"total_size_bytes"`
	LanguageBreakup map[string]int `json:"language_breakup,omitempty"`
}

// Preflight is a cached snapshot of a repository sufficient to run an audit
// without re-fetching the file list. See SPEC_FULL.md §3.
type Preflight struct {
	ID              string        `json:"id"`
	RepoURL         string        `json:"repo_url"`
	Owner           string        `json:"owner"`
	Repo            string        `json:"repo"`
	DefaultBranch   string        `json:"default_branch"`
	RepoMap         []RepoMapEntry `json:"repo_map"`
	Stats           RepoStats     `json:"stats"`
	Fingerprint     string        `json:"fingerprint"`
	IsPrivate       bool          `json:"is_private"`
	FetchStrategy   FetchStrategy `json:"fetch_strategy"`
	GithubAccountID *string       `json:"github_account_id,omitempty"`
	TokenValid      bool          `json:"token_valid"`
	UserID          *string       `json:"user_id,omitempty"`
	FileCount       int           `json:"file_count"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
}

// Expired reports whether the preflight has passed its TTL as of now.
func (p *Preflight) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
