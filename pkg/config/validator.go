package config

import (
	"fmt"
	"os"
)

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast — stops at first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateTiers(); err != nil {
		return fmt.Errorf("tier validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	if err := v.validateGitHub(); err != nil {
		return fmt.Errorf("github validation failed: %w", err)
	}

	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}

	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount)
	}
	if q.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1, got %d", q.MaxConcurrentJobs)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", q.PollInterval)
	}
	if q.PollIntervalJitter < 0 {
		return fmt.Errorf("poll_interval_jitter must be non-negative, got %v", q.PollIntervalJitter)
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be less than poll_interval, got jitter=%v interval=%v", q.PollIntervalJitter, q.PollInterval)
	}
	if q.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive, got %v", q.JobTimeout)
	}
	if q.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive, got %v", q.GracefulShutdownTimeout)
	}
	if q.StaleLeaseCheckInterval <= 0 {
		return fmt.Errorf("stale_lease_check_interval must be positive, got %v", q.StaleLeaseCheckInterval)
	}
	if q.StaleLeaseThreshold <= 0 {
		return fmt.Errorf("stale_lease_threshold must be positive, got %v", q.StaleLeaseThreshold)
	}
	if q.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry_base_delay must be positive, got %v", q.RetryBaseDelay)
	}
	if q.RetryMaxDelay < q.RetryBaseDelay {
		return fmt.Errorf("retry_max_delay must be >= retry_base_delay, got max=%v base=%v", q.RetryMaxDelay, q.RetryBaseDelay)
	}

	return nil
}

func (v *Validator) validateTiers() error {
	for name, tier := range v.cfg.TierRegistry.GetAll() {
		if !name.IsValid() {
			return NewValidationError("tier", string(name), "", fmt.Errorf("unrecognized tier name"))
		}

		if !name.UsesStaticPlan() && tier.PlannerSystemPrompt == "" {
			return NewValidationError("tier", string(name), "planner_system_prompt", fmt.Errorf("required for LLM-planned tiers"))
		}

		if tier.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(tier.LLMProvider) {
			return NewValidationError("tier", string(name), "llm_provider", fmt.Errorf("LLM provider '%s' not found", tier.LLMProvider))
		}

		if tier.MaxWorkers < 0 {
			return NewValidationError("tier", string(name), "max_workers", fmt.Errorf("must be non-negative"))
		}

		if tier.MaxIterations != nil && *tier.MaxIterations < 1 {
			return NewValidationError("tier", string(name), "max_iterations", fmt.Errorf("must be at least 1"))
		}

		if tier.ThinkingBudget != "" && !tier.ThinkingBudget.IsValid() {
			return NewValidationError("tier", string(name), "thinking_budget", fmt.Errorf("invalid thinking budget: %s", tier.ThinkingBudget))
		}
	}

	for _, required := range []TierName{TierShape, TierConventions, TierPerformance, TierSecurity, TierSupabaseDeepDive} {
		if !v.cfg.TierRegistry.Has(required) {
			return NewValidationError("tier", string(required), "", fmt.Errorf("built-in tier missing from registry"))
		}
	}

	return nil
}

func (v *Validator) validateLLMProviders() error {
	referenced := v.collectReferencedLLMProviders()

	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}

		if referenced[name] && provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}

		if provider.MaxToolResultTokens < 1000 {
			return NewValidationError("llm_provider", name, "max_tool_result_tokens", fmt.Errorf("must be at least 1000"))
		}
	}

	return nil
}

// collectReferencedLLMProviders returns the set of provider names actually
// used by a tier or by Defaults.LLMProvider — only those need their API key
// environment variable present at startup.
func (v *Validator) collectReferencedLLMProviders() map[string]bool {
	referenced := make(map[string]bool)

	if v.cfg.Defaults != nil && v.cfg.Defaults.LLMProvider != "" {
		referenced[v.cfg.Defaults.LLMProvider] = true
	}

	for _, tier := range v.cfg.TierRegistry.GetAll() {
		if tier.LLMProvider != "" {
			referenced[tier.LLMProvider] = true
		}
	}

	return referenced
}

func (v *Validator) validateDefaults() error {
	defaults := v.cfg.Defaults
	if defaults == nil {
		return nil
	}

	if defaults.Tier != "" && !defaults.Tier.IsValid() {
		return NewValidationError("defaults", "", "tier", fmt.Errorf("invalid tier: %s", defaults.Tier))
	}

	if defaults.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(defaults.LLMProvider) {
		return NewValidationError("defaults", "", "llm_provider", fmt.Errorf("LLM provider '%s' not found", defaults.LLMProvider))
	}

	if defaults.MaxIterations != nil && *defaults.MaxIterations < 1 {
		return NewValidationError("defaults", "", "max_iterations", fmt.Errorf("must be at least 1"))
	}

	if defaults.MaxAttempts != nil && *defaults.MaxAttempts < 1 {
		return NewValidationError("defaults", "", "max_attempts", fmt.Errorf("must be at least 1"))
	}

	if defaults.SourceMasking != nil && defaults.SourceMasking.Enabled && defaults.SourceMasking.PatternGroup == "" {
		return NewValidationError("defaults", "", "source_masking.pattern_group", fmt.Errorf("required when source masking is enabled"))
	}

	return nil
}

func (v *Validator) validateGitHub() error {
	gh := v.cfg.GitHub
	if gh == nil {
		return fmt.Errorf("github configuration is nil")
	}

	if gh.TokenEnv == "" {
		return fmt.Errorf("system.github.token_env is required")
	}
	if gh.CacheTTL <= 0 {
		return fmt.Errorf("system.github.cache_ttl must be positive, got %v", gh.CacheTTL)
	}
	if gh.RequestTimeout <= 0 {
		return fmt.Errorf("system.github.request_timeout must be positive, got %v", gh.RequestTimeout)
	}

	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return fmt.Errorf("retention configuration is nil")
	}

	if r.PreflightTTL <= 0 {
		return fmt.Errorf("system.retention.preflight_ttl must be positive, got %v", r.PreflightTTL)
	}
	if r.AuditRetentionDays < 1 {
		return fmt.Errorf("system.retention.audit_retention_days must be at least 1, got %d", r.AuditRetentionDays)
	}
	if r.ReasoningSessionTTL <= 0 {
		return fmt.Errorf("system.retention.reasoning_session_ttl must be positive, got %v", r.ReasoningSessionTTL)
	}
	if r.CleanupInterval <= 0 {
		return fmt.Errorf("system.retention.cleanup_interval must be positive, got %v", r.CleanupInterval)
	}

	return nil
}
