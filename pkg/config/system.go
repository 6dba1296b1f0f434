package config

import "time"

// GitHubConfig holds resolved GitHub integration configuration (C9/C12: the
// tool registry's GitHub tools and the preflight repo-map fetch both use it).
type GitHubConfig struct {
	TokenEnv   string        // Env var name containing GitHub PAT (default: "GITHUB_TOKEN")
	CacheTTL   time.Duration // How long a fetched file/tree response is cached
	RequestTimeout time.Duration
}
