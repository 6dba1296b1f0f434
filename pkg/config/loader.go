package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AuditCoreYAMLConfig represents the complete auditcore.yaml file structure.
type AuditCoreYAMLConfig struct {
	System   *SystemYAMLConfig     `yaml:"system"`
	Tiers    map[TierName]TierConfig `yaml:"tiers"`
	Defaults *Defaults             `yaml:"defaults"`
	Queue    *QueueConfig          `yaml:"queue"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	DashboardURL     string            `yaml:"dashboard_url"`
	AllowedWSOrigins []string          `yaml:"allowed_ws_origins"`
	GitHub           *GitHubYAMLConfig `yaml:"github"`
	Retention        *RetentionConfig  `yaml:"retention"`
}

// GitHubYAMLConfig holds GitHub integration settings from YAML.
type GitHubYAMLConfig struct {
	TokenEnv string `yaml:"token_env,omitempty"` // Defaults to "GITHUB_TOKEN" if omitted
	CacheTTL string `yaml:"cache_ttl,omitempty"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined tiers/providers
//  5. Resolve system config (GitHub, retention, dashboard, WS origins)
//  6. Build in-memory registries
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized successfully",
		"tiers", stats.Tiers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	auditCfg, err := loader.loadAuditCoreYAML()
	if err != nil {
		return nil, NewLoadError("auditcore.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	builtin := GetBuiltinConfig()

	tiers := mergeTiers(builtin.Tiers, auditCfg.Tiers)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	tierRegistry := NewTierRegistry(tiers)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	defaults := auditCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.LLMProvider == "" {
		defaults.LLMProvider = "default"
	}
	if defaults.Tier == "" {
		defaults.Tier = TierShape
	}
	if defaults.SourceMasking == nil {
		defaults.SourceMasking = &MaskingDefaults{Enabled: true, PatternGroup: "secrets"}
	}

	queueConfig := DefaultQueueConfig()
	if auditCfg.Queue != nil {
		if err := mergo.Merge(queueConfig, auditCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	githubCfg := resolveGitHubConfig(auditCfg.System)
	retentionCfg := resolveRetentionConfig(auditCfg.System)
	dashboardURL := resolveDashboardURL(auditCfg.System)
	allowedWSOrigins := resolveAllowedWSOrigins(auditCfg.System)

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Queue:               queueConfig,
		GitHub:              githubCfg,
		Retention:           retentionCfg,
		DashboardURL:        dashboardURL,
		AllowedWSOrigins:    allowedWSOrigins,
		TierRegistry:        tierRegistry,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand ${VAR}/${VAR:-default} references before parsing. ExpandEnv
	// passes through original data on a malformed reference, so the YAML
	// parser still reports a clear error rather than this step swallowing it.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAuditCoreYAML() (*AuditCoreYAMLConfig, error) {
	var config AuditCoreYAMLConfig
	config.Tiers = make(map[TierName]TierConfig)

	if err := l.loadYAML("auditcore.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig
	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}

// resolveGitHubConfig resolves GitHub configuration from system YAML, applying defaults.
func resolveGitHubConfig(sys *SystemYAMLConfig) *GitHubConfig {
	cfg := &GitHubConfig{
		TokenEnv:       "GITHUB_TOKEN",
		CacheTTL:       1 * time.Minute,
		RequestTimeout: 30 * time.Second,
	}

	if sys == nil || sys.GitHub == nil {
		return cfg
	}

	gh := sys.GitHub
	if gh.TokenEnv != "" {
		cfg.TokenEnv = gh.TokenEnv
	}
	if gh.CacheTTL != "" {
		if d, err := time.ParseDuration(gh.CacheTTL); err == nil {
			cfg.CacheTTL = d
		} else {
			slog.Warn("invalid cache_ttl in github config, using default",
				"value", gh.CacheTTL, "default", cfg.CacheTTL, "error", err)
		}
	}

	return cfg
}

// resolveDashboardURL resolves the dashboard base URL from system YAML, applying defaults.
func resolveDashboardURL(sys *SystemYAMLConfig) string {
	if sys != nil && sys.DashboardURL != "" {
		return sys.DashboardURL
	}
	return "http://localhost:5173"
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}

	r := sys.Retention
	if r.PreflightTTL > 0 {
		cfg.PreflightTTL = r.PreflightTTL
	}
	if r.AuditRetentionDays > 0 {
		cfg.AuditRetentionDays = r.AuditRetentionDays
	}
	if r.ReasoningSessionTTL > 0 {
		cfg.ReasoningSessionTTL = r.ReasoningSessionTTL
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}

// resolveAllowedWSOrigins returns additional WebSocket origin patterns from system YAML.
func resolveAllowedWSOrigins(sys *SystemYAMLConfig) []string {
	if sys != nil {
		return sys.AllowedWSOrigins
	}
	return nil
}
