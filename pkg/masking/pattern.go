package masking

import (
	"log/slog"
	"regexp"
	"slices"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// resolvedPatterns holds the resolved set of maskers and patterns for one
// masking pass.
type resolvedPatterns struct {
	codeMaskerNames []string
	regexPatterns   []*CompiledPattern
}

// compileBuiltinPatterns compiles every built-in regex pattern from
// config.GetBuiltinConfig(). Invalid patterns are logged and skipped so a
// single bad regex can't take masking out entirely.
func (s *Service) compileBuiltinPatterns() {
	for name, pattern := range config.GetBuiltinConfig().MaskingPatterns {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("skipping masking pattern that failed to compile", "pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
}

// resolveGroup expands a pattern group name into the code maskers and
// compiled regex patterns it names.
func (s *Service) resolveGroup(groupName string) *resolvedPatterns {
	resolved := &resolvedPatterns{}
	builtin := config.GetBuiltinConfig()

	names, ok := s.patternGroups[groupName]
	if !ok {
		return resolved
	}

	for _, name := range names {
		if slices.Contains(builtin.CodeMaskers, name) {
			resolved.codeMaskerNames = append(resolved.codeMaskerNames, name)
			continue
		}
		if cp, ok := s.patterns[name]; ok {
			resolved.regexPatterns = append(resolved.regexPatterns, cp)
		}
	}

	return resolved
}
