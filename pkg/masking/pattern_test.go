package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
)

func TestCompileBuiltinPatterns_AllCompile(t *testing.T) {
	svc := NewService(&config.MaskingDefaults{Enabled: true, PatternGroup: "default"})

	builtin := config.GetBuiltinConfig()
	assert.Equal(t, len(builtin.MaskingPatterns), len(svc.patterns),
		"every built-in masking pattern should compile")

	for name, cp := range svc.patterns {
		assert.NotNil(t, cp.Regex, "pattern %s should have a compiled regex", name)
		assert.NotEmpty(t, cp.Replacement, "pattern %s should have a replacement", name)
	}
}

func TestResolveGroup_Default(t *testing.T) {
	svc := NewService(&config.MaskingDefaults{Enabled: true, PatternGroup: "default"})

	resolved := svc.resolveGroup("default")
	assert.GreaterOrEqual(t, len(resolved.regexPatterns), 4)
	assert.Contains(t, resolved.codeMaskerNames, "kubernetes_secret")

	names := make([]string, len(resolved.regexPatterns))
	for i, p := range resolved.regexPatterns {
		names[i] = p.Name
	}
	assert.NotContains(t, names, "github_token", "github_token is only in the strict group")
}

func TestResolveGroup_Strict(t *testing.T) {
	svc := NewService(&config.MaskingDefaults{Enabled: true, PatternGroup: "strict"})

	resolved := svc.resolveGroup("strict")
	assert.Contains(t, resolved.codeMaskerNames, "kubernetes_secret")

	names := make([]string, len(resolved.regexPatterns))
	for i, p := range resolved.regexPatterns {
		names[i] = p.Name
	}
	assert.Contains(t, names, "github_token")
	assert.Contains(t, names, "aws_access_key")
	assert.Contains(t, names, "basic_auth_url")
}

func TestResolveGroup_Unknown(t *testing.T) {
	svc := NewService(&config.MaskingDefaults{Enabled: true, PatternGroup: "default"})

	resolved := svc.resolveGroup("nonexistent")
	assert.Empty(t, resolved.regexPatterns)
	assert.Empty(t, resolved.codeMaskerNames)
}

func TestResolveGroup_NameNotInPatternsOrCodeMaskers_Skipped(t *testing.T) {
	svc := NewService(&config.MaskingDefaults{Enabled: true, PatternGroup: "default"})
	svc.patternGroups = map[string][]string{"broken": {"does-not-exist", "aws_access_key"}}

	resolved := svc.resolveGroup("broken")
	require.Len(t, resolved.regexPatterns, 1)
	assert.Equal(t, "aws_access_key", resolved.regexPatterns[0].Name)
}
