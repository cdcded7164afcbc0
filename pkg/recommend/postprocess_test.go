package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeBeforeFilter(t *testing.T) {
	findings := []*Finding{
		{ID: "rec_1", Category: CategoryCost, Severity: SeverityMedium, EstimatedSavings: 12.50},
		{ID: "rec_2", Category: CategorySecurity, Severity: SeverityCritical},
		{ID: "rec_3", Category: CategoryOperational, Severity: SeverityLow, EstimatedSavings: 0.10},
	}

	summary := Summarize(findings)
	assert.Equal(t, 3, summary.TotalRecommendations)
	assert.Equal(t, map[string]int{CategoryCost: 1, CategorySecurity: 1, CategoryOperational: 1}, summary.ByCategory)
	assert.Equal(t, map[string]int{SeverityMedium: 1, SeverityCritical: 1, SeverityLow: 1}, summary.BySeverity)
	assert.InDelta(t, 12.60, summary.TotalPotentialSavingsMonthly, 0.001)

	// Filtering drops the low-value finding but the summary already counted it
	kept := Filter(findings)
	require.Len(t, kept, 2)
	assert.Equal(t, 3, summary.TotalRecommendations)
}

func TestFilterKeepsUrgentRegardlessOfSavings(t *testing.T) {
	findings := []*Finding{
		{ID: "rec_1", Severity: SeverityCritical, EstimatedSavings: 0.10},
		{ID: "rec_2", Severity: SeverityHigh},
		{ID: "rec_3", Severity: SeverityLow, EstimatedSavings: 0.10},
		{ID: "rec_4", Severity: SeverityLow, EstimatedSavings: 0.20},
	}

	kept := Filter(findings)
	ids := []string{}
	for _, f := range kept {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"rec_1", "rec_2", "rec_4"}, ids)
}

func TestSortBySeverity(t *testing.T) {
	findings := []*Finding{
		{ID: "a", Severity: SeverityLow},
		{ID: "b", Severity: SeverityCritical},
		{ID: "c", Severity: SeverityMedium},
		{ID: "d", Severity: SeverityHigh},
	}

	Sort(findings)

	order := []string{}
	for _, f := range findings {
		order = append(order, f.Severity)
	}
	assert.Equal(t, []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}, order)
}

func TestSortIsStableWithinSeverity(t *testing.T) {
	findings := []*Finding{
		{ID: "first", Severity: SeverityHigh},
		{ID: "b", Severity: SeverityLow},
		{ID: "second", Severity: SeverityHigh},
	}

	Sort(findings)

	assert.Equal(t, "first", findings[0].ID)
	assert.Equal(t, "second", findings[1].ID)
}
