package config

// mergeTiers merges built-in and user-defined tier configurations.
// User-defined tiers override built-in tiers with the same name; unknown
// tier names in user YAML are kept too (an operator-defined sixth tier is
// not rejected here, only by the five-tier UsesStaticPlan/validate paths
// elsewhere, which is deliberately permissive).
func mergeTiers(builtinTiers map[TierName]TierConfig, userTiers map[TierName]TierConfig) map[TierName]*TierConfig {
	result := make(map[TierName]*TierConfig, len(builtinTiers))

	for name, tier := range builtinTiers {
		tierCopy := tier
		result[name] = &tierCopy
	}

	for name, userTier := range userTiers {
		tierCopy := userTier
		result[name] = &tierCopy
	}

	return result
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig, len(builtinProviders))

	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}
