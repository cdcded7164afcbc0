// Package recommend turns resource inventories into cost, security,
// reliability, and operational findings, optionally enriched with
// AI-generated remediation guidance.
package recommend

// Severity levels, ordered most to least urgent
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Finding categories
const (
	CategoryCost        = "cost"
	CategorySecurity    = "security"
	CategoryReliability = "reliability"
	CategoryOperational = "operational"
)

// severityRank orders findings for presentation. Unknown severities sink to
// the bottom.
func severityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// AIInsight is the model-generated guidance attached to a finding
type AIInsight struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Risks   string `json:"risks"`
	ROI     string `json:"roi"`
}

// Finding is one recommendation produced by the rule engine
type Finding struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Category          string     `json:"category"`
	Severity          string     `json:"severity"`
	AffectedResources []string   `json:"affected_resources"`
	Recommendation    string     `json:"recommendation"`
	ResourceCount     int        `json:"resource_count"`
	EstimatedSavings  float64    `json:"estimated_savings"`
	AIInsight         *AIInsight `json:"ai_insight,omitempty"`
	AIEnhanced        bool       `json:"ai_enhanced,omitempty"`
}

// Summary aggregates a finding set. It is computed over the full rule output
// before low-value findings are filtered away, so totals reflect everything
// the rules saw.
type Summary struct {
	TotalRecommendations         int            `json:"total_recommendations"`
	ByCategory                   map[string]int `json:"by_category"`
	BySeverity                   map[string]int `json:"by_severity"`
	TotalPotentialSavingsMonthly float64        `json:"total_potential_savings_monthly"`
}

// Response is the recommendations answer returned to callers
type Response struct {
	ClientID        int64      `json:"client_id"`
	ClientName      string     `json:"client_name"`
	Provider        string     `json:"provider"`
	Recommendations []*Finding `json:"recommendations"`
	Summary         Summary    `json:"summary"`
}
