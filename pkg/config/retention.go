package config

import "time"

// RetentionConfig controls data retention and cleanup behavior (pkg/cleanup).
type RetentionConfig struct {
	// PreflightTTL is the maximum age of a Preflight row before it is
	// eligible for deletion, independent of whether a job ever ran against it.
	PreflightTTL time.Duration `yaml:"preflight_ttl"`

	// AuditRetentionDays is how many days to keep completed audit records
	// (and their result chunks) before deletion.
	AuditRetentionDays int `yaml:"audit_retention_days"`

	// ReasoningSessionTTL is the maximum age of a completed or failed
	// reasoning session (and its steps/checkpoints) before deletion.
	ReasoningSessionTTL time.Duration `yaml:"reasoning_session_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		PreflightTTL:        1 * time.Hour,
		AuditRetentionDays:  90,
		ReasoningSessionTTL: 30 * 24 * time.Hour,
		CleanupInterval:     12 * time.Hour,
	}
}
