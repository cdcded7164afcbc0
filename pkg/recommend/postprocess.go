package recommend

import "sort"

// MinSavingsThreshold is the monthly savings floor below which low-urgency
// findings are dropped from the response
const MinSavingsThreshold = 0.20

// Summarize aggregates the full finding set. Call it before Filter so the
// summary reflects everything the rules produced.
func Summarize(findings []*Finding) Summary {
	summary := Summary{
		TotalRecommendations: len(findings),
		ByCategory:           map[string]int{},
		BySeverity:           map[string]int{},
	}
	for _, finding := range findings {
		summary.ByCategory[finding.Category]++
		summary.BySeverity[finding.Severity]++
		summary.TotalPotentialSavingsMonthly += finding.EstimatedSavings
	}
	return summary
}

// Filter keeps findings worth showing: meaningful savings or high urgency
func Filter(findings []*Finding) []*Finding {
	kept := []*Finding{}
	for _, finding := range findings {
		if finding.EstimatedSavings >= MinSavingsThreshold ||
			finding.Severity == SeverityCritical || finding.Severity == SeverityHigh {
			kept = append(kept, finding)
		}
	}
	return kept
}

// Sort orders findings most urgent first, preserving rule order within a
// severity level
func Sort(findings []*Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return severityRank(findings[i].Severity) < severityRank(findings[j].Severity)
	})
}
