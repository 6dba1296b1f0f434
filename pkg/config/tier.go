package config

import (
	"fmt"
	"sync"
)

// TierConfig defines one audit tier's planner behavior (C5). Metadata only —
// instantiation of the planner/worker/coordinator prompts lives in pkg/pipeline.
type TierConfig struct {
	// Name is the tier identifier, duplicated from the registry key for
	// convenience when a TierConfig is passed around on its own.
	Name TierName `yaml:"name,omitempty"`

	// Description is a human-readable summary shown in API responses.
	Description string `yaml:"description,omitempty"`

	// PlannerSystemPrompt seeds the Phase 1 planner's reasoning session.
	// Empty for tiers that use a static plan (TierName.UsesStaticPlan).
	PlannerSystemPrompt string `yaml:"planner_system_prompt,omitempty"`

	// WorkerSystemPrompt seeds each Phase 2 worker task's reasoning session.
	WorkerSystemPrompt string `yaml:"worker_system_prompt,omitempty"`

	// CoordinatorSystemPrompt seeds the Phase 3 merge/scoring step.
	CoordinatorSystemPrompt string `yaml:"coordinator_system_prompt,omitempty"`

	// LLMProvider names the provider (by LLMProviderRegistry key) this tier
	// prefers; falls back to Defaults.LLMProvider when empty.
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// MaxWorkers bounds Phase 2 fan-out concurrency for this tier.
	MaxWorkers int `yaml:"max_workers,omitempty" validate:"omitempty,min=1"`

	// MaxIterations bounds the reasoning loop for this tier's sessions.
	MaxIterations *int `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`

	// ThinkingBudget is the default reasoning-effort hint for this tier.
	ThinkingBudget ThinkingBudget `yaml:"thinking_budget,omitempty"`
}

// TierRegistry stores tier configurations in memory with thread-safe access.
// Replaces the teacher's AgentRegistry/ChainRegistry: a tier here plays the
// role an agent chain played there — the fixed pipeline stays the same
// across tiers, only the prompts and limits change.
type TierRegistry struct {
	tiers map[TierName]*TierConfig
	mu    sync.RWMutex
}

// NewTierRegistry creates a new tier registry.
func NewTierRegistry(tiers map[TierName]*TierConfig) *TierRegistry {
	copied := make(map[TierName]*TierConfig, len(tiers))
	for k, v := range tiers {
		copied[k] = v
	}
	return &TierRegistry{tiers: copied}
}

// Get retrieves a tier configuration by name (thread-safe).
func (r *TierRegistry) Get(name TierName) (*TierConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tier, exists := r.tiers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTierNotFound, name)
	}
	return tier, nil
}

// GetAll returns all tier configurations (thread-safe, returns copy).
func (r *TierRegistry) GetAll() map[TierName]*TierConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[TierName]*TierConfig, len(r.tiers))
	for k, v := range r.tiers {
		result[k] = v
	}
	return result
}

// Has checks if a tier exists in the registry (thread-safe).
func (r *TierRegistry) Has(name TierName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tiers[name]
	return exists
}

// Len returns the number of tiers in the registry (thread-safe).
func (r *TierRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tiers)
}
