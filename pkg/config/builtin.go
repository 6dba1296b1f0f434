package config

import "sync"

// BuiltinConfig holds all built-in configuration data: the five fixed
// tiers, any default LLM provider shipped without an auditcore.yaml, and
// the built-in source-masking patterns applied before fetched file
// content reaches a completion prompt or a log line.
type BuiltinConfig struct {
	Tiers        map[TierName]TierConfig
	LLMProviders map[string]LLMProviderConfig

	// MaskingPatterns are regex-based secret patterns, keyed by name.
	MaskingPatterns map[string]MaskingPattern

	// CodeMaskers names the structurally-aware maskers (pkg/masking.Masker
	// implementations) available alongside the regex patterns.
	CodeMaskers []string

	// PatternGroups names a set of MaskingPatterns/CodeMaskers entries to
	// apply together, selected by config.Defaults.SourceMasking.PatternGroup.
	PatternGroups map[string][]string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration
// (thread-safe, lazy-initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Tiers:           initBuiltinTiers(),
		LLMProviders:    initBuiltinLLMProviders(),
		MaskingPatterns: initBuiltinMaskingPatterns(),
		CodeMaskers:     []string{"kubernetes_secret"},
		PatternGroups: map[string][]string{
			"default": {"aws_access_key", "generic_api_key", "private_key_block", "jwt", "kubernetes_secret"},
			"strict":  {"aws_access_key", "github_token", "generic_api_key", "private_key_block", "jwt", "basic_auth_url", "kubernetes_secret"},
		},
	}
}

func initBuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"aws_access_key": {
			Pattern:     `AKIA[0-9A-Z]{16}`,
			Replacement: "[MASKED_AWS_ACCESS_KEY]",
			Description: "AWS access key ID",
		},
		"github_token": {
			Pattern:     `gh[pousr]_[A-Za-z0-9]{36,255}`,
			Replacement: "[MASKED_GITHUB_TOKEN]",
			Description: "GitHub personal access / OAuth / app token",
		},
		"generic_api_key": {
			Pattern:     `(?i)(api[_-]?key|secret|token)["'\s:=]{1,4}["']?[A-Za-z0-9_\-]{20,}["']?`,
			Replacement: "[MASKED_API_KEY]",
			Description: "generic key=value secret assignment",
		},
		"private_key_block": {
			Pattern:     `-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
			Replacement: "[MASKED_PRIVATE_KEY]",
			Description: "PEM-encoded private key block",
		},
		"jwt": {
			Pattern:     `eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`,
			Replacement: "[MASKED_JWT]",
			Description: "JSON Web Token",
		},
		"basic_auth_url": {
			Pattern:     `[a-zA-Z][a-zA-Z0-9+.-]*://[^/\s:@]+:[^/\s:@]+@`,
			Replacement: "[MASKED_CREDENTIALS]@",
			Description: "userinfo credentials embedded in a URL",
		},
	}
}

func initBuiltinTiers() map[TierName]TierConfig {
	five := 5
	eight := 8
	return map[TierName]TierConfig{
		TierShape: {
			Name:        TierShape,
			Description: "Free tier: repository shape — file layout, language mix, size outliers. Static plan, no LLM planner.",
			MaxWorkers:  1,
		},
		TierConventions: {
			Name:                    TierConventions,
			Description:             "Naming, formatting, and project-convention conformance.",
			PlannerSystemPrompt:     conventionsPlannerPrompt,
			WorkerSystemPrompt:      conventionsWorkerPrompt,
			CoordinatorSystemPrompt: defaultCoordinatorPrompt,
			MaxWorkers:              3,
			MaxIterations:           &five,
			ThinkingBudget:          ThinkingBudgetAudit,
		},
		TierPerformance: {
			Name:                    TierPerformance,
			Description:             "Hot-path complexity, N+1 queries, unbounded allocations.",
			PlannerSystemPrompt:     performancePlannerPrompt,
			WorkerSystemPrompt:      performanceWorkerPrompt,
			CoordinatorSystemPrompt: defaultCoordinatorPrompt,
			MaxWorkers:              4,
			MaxIterations:           &eight,
			ThinkingBudget:          ThinkingBudgetComplex,
		},
		TierSecurity: {
			Name:                    TierSecurity,
			Description:             "Injection, authz, secrets-in-code, unsafe deserialization.",
			PlannerSystemPrompt:     securityPlannerPrompt,
			WorkerSystemPrompt:      securityWorkerPrompt,
			CoordinatorSystemPrompt: defaultCoordinatorPrompt,
			MaxWorkers:              4,
			MaxIterations:           &eight,
			ThinkingBudget:          ThinkingBudgetComplex,
		},
		TierSupabaseDeepDive: {
			Name:                    TierSupabaseDeepDive,
			Description:             "Row-level security, migration drift, and Supabase client misuse.",
			PlannerSystemPrompt:     supabasePlannerPrompt,
			WorkerSystemPrompt:      supabaseWorkerPrompt,
			CoordinatorSystemPrompt: defaultCoordinatorPrompt,
			MaxWorkers:              5,
			MaxIterations:           &eight,
			ThinkingBudget:          ThinkingBudgetMaximum,
		},
	}
}

func initBuiltinLLMProviders() map[string]LLMProviderConfig {
	return map[string]LLMProviderConfig{
		"default": {
			Type:                  LLMProviderTypeAnthropic,
			Model:                 "claude-sonnet-4-5",
			APIKeyEnv:             "ANTHROPIC_API_KEY",
			MaxToolResultTokens:   8000,
			RequestTimeoutSeconds: 120,
		},
	}
}

const conventionsPlannerPrompt = `You are the planning stage of a code-convention audit. Given the ` +
	`repository map, choose a focus area and split the work into worker tasks, each scoped to a ` +
	`coherent slice of files, that check naming, formatting, and structural convention conformance.`

const conventionsWorkerPrompt = `You are a worker investigating code-convention conformance for the ` +
	`files you were assigned. Report each deviation as a distinct issue with a severity, a file ` +
	`path, and a concrete remediation.`

const performancePlannerPrompt = `You are the planning stage of a performance audit. Identify the ` +
	`repository's hot paths (request handlers, query builders, loops over collections) and split ` +
	`worker tasks so each one traces a bounded call path for complexity and allocation issues.`

const performanceWorkerPrompt = `You are a worker investigating performance issues in the files you ` +
	`were assigned: unbounded loops, N+1 query patterns, unnecessary allocation, missing indexes. ` +
	`Report each as a distinct issue with severity and remediation.`

const securityPlannerPrompt = `You are the planning stage of a security audit. Prioritize ` +
	`authentication, authorization, input handling, and secret-management code, and split worker ` +
	`tasks so each traces one attack surface end to end.`

const securityWorkerPrompt = `You are a worker investigating security issues in the files you were ` +
	`assigned: injection, broken access control, hardcoded secrets, unsafe deserialization. Report ` +
	`each as a distinct issue with severity, a proof-of-concept sketch if relevant, and remediation.`

const supabasePlannerPrompt = `You are the planning stage of a Supabase deep-dive audit. Prioritize ` +
	`SQL migrations, RLS policy definitions, and client SDK call sites, and split worker tasks so ` +
	`each traces one table's access path from client to policy.`

const supabaseWorkerPrompt = `You are a worker investigating Supabase misuse in the files you were ` +
	`assigned: missing or overly permissive row-level security policies, migration drift, service-role ` +
	`key exposure on the client. Report each as a distinct issue with severity and remediation.`

const defaultCoordinatorPrompt = `You are the coordinator stage. Merge the worker findings, ` +
	`de-duplicate overlapping issues by file and description, compute the health score deductions, ` +
	`and produce the final report summary and verdict.`
