package masking

import (
	"log/slog"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
)

// Service redacts secrets from fetched source content before it reaches a
// completion prompt or a status/reasoning log line. Created once at
// startup (singleton); thread-safe and stateless aside from its compiled
// patterns.
type Service struct {
	enabled       bool
	patternGroup  string
	patterns      map[string]*CompiledPattern
	patternGroups map[string][]string
	codeMaskers   map[string]Masker
}

// NewService builds a masking Service from the system-wide defaults
// (config.Defaults.SourceMasking), compiling every built-in pattern
// eagerly. A nil or disabled defaults value yields a Service whose Mask
// is a no-op, rather than requiring every caller to nil-check.
func NewService(defaults *config.MaskingDefaults) *Service {
	s := &Service{
		patterns:      make(map[string]*CompiledPattern),
		patternGroups: config.GetBuiltinConfig().PatternGroups,
		codeMaskers:   make(map[string]Masker),
	}
	s.registerMasker(&KubernetesSecretMasker{})
	s.compileBuiltinPatterns()

	if defaults != nil {
		s.enabled = defaults.Enabled
		s.patternGroup = defaults.PatternGroup
	}
	if s.patternGroup == "" {
		s.patternGroup = "default"
	}

	slog.Info("masking service initialized",
		"enabled", s.enabled, "pattern_group", s.patternGroup,
		"compiled_patterns", len(s.patterns), "code_maskers", len(s.codeMaskers))

	return s
}

// Mask redacts secrets from content using the configured pattern group.
// Fails closed: if masking is enabled but a resolved masker panics or
// misbehaves there is nothing upstream to catch it, so callers that embed
// this in a prompt should treat Mask's output, not the original content,
// as the thing that leaves the process boundary.
func (s *Service) Mask(content string) string {
	if !s.enabled || content == "" {
		return content
	}

	resolved := s.resolveGroup(s.patternGroup)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return content
	}

	masked := content
	for _, name := range resolved.codeMaskerNames {
		masker, ok := s.codeMaskers[name]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}
	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked
}

func (s *Service) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
