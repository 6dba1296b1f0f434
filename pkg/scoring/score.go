// Package scoring implements the deterministic health-score/risk-level
// computation (SPEC_FULL.md §4.5a). It has no dependencies beyond
// pkg/models so both pkg/pipeline (the coordinator) and pkg/tools (the
// calculate_health_score tool) can import it without a cycle.
package scoring

import "github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"

// Result is the scoring function's deterministic output.
type Result struct {
	HealthScore     int             `json:"health_score"`
	RiskLevel       models.RiskLevel `json:"risk_level"`
	ProductionReady bool            `json:"production_ready"`
}

// Score computes the health score from an issue list alone, per
// SPEC_FULL.md §4.5a:
//   - start at 100; deduct critical→15, high|warning→5, medium→2, info|low→0.5
//   - cap total deduction at 100; round to nearest integer
//   - riskLevel: <50 critical, <70 high, <85 medium, else low
//   - productionReady = healthScore > 80
func Score(issues []models.Issue) Result {
	var deduction float64
	for _, issue := range issues {
		switch issue.Severity {
		case models.SeverityCritical:
			deduction += 15
		case models.SeverityHigh, models.SeverityWarning:
			deduction += 5
		case models.SeverityMedium:
			deduction += 2
		case models.SeverityInfo, models.SeverityLow:
			deduction += 0.5
		}
	}
	if deduction > 100 {
		deduction = 100
	}

	healthScore := int(100 - deduction + 0.5) // round to nearest integer

	var risk models.RiskLevel
	switch {
	case healthScore < 50:
		risk = models.RiskLevelCritical
	case healthScore < 70:
		risk = models.RiskLevelHigh
	case healthScore < 85:
		risk = models.RiskLevelMedium
	default:
		risk = models.RiskLevelLow
	}

	return Result{
		HealthScore:     healthScore,
		RiskLevel:       risk,
		ProductionReady: healthScore > 80,
	}
}
