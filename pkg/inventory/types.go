// Package inventory caches and orchestrates per-client cloud resource
// inventories. Snapshots are append-only; a refresh is always a new row.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Inventory is the normalized resource payload: category -> resource type ->
// list of resource records. Every provider adapter normalizes into this one
// shape at the boundary.
type Inventory map[string]map[string][]map[string]interface{}

// Result is what a provider fetch produces. Fetchers never return an error:
// total failure is the empty shape with Error set, per-service failures
// contribute empty lists.
type Result struct {
	Resources Inventory
	Error     string
}

// Fetcher retrieves a best-effort inventory for one cloud provider
type Fetcher interface {
	// Provider returns the provider name this fetcher serves
	Provider() string

	// Fetch collects the inventory using the client's credential metadata.
	// It must never panic its way out and never returns a Go error.
	Fetch(ctx context.Context, clientID int64, credentials map[string]interface{}) *Result
}

// DetailFetcher is implemented by fetchers that can look one resource up in
// depth. Like Fetch, FetchDetails never returns a Go error: failures are
// reported through an "error" key in the returned map.
type DetailFetcher interface {
	FetchDetails(ctx context.Context, credentials map[string]interface{}, resourceType, resourceID string) map[string]interface{}
}

// DetailsResponse is the answer to a resource drill-down request
type DetailsResponse struct {
	ClientID     int64                  `json:"client_id"`
	Provider     string                 `json:"provider"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Details      map[string]interface{} `json:"details"`
}

// CostsResponse is the per-client cost estimate answer
type CostsResponse struct {
	ClientID         int64              `json:"client_id"`
	ClientName       string             `json:"client_name"`
	Provider         string             `json:"provider"`
	PeriodDays       int                `json:"period_days"`
	CostsUSD         map[string]float64 `json:"costs_usd"`
	ProjectedMonthly float64            `json:"projected_monthly"`
}

// Snapshot is one stored copy of a client's inventory at a point in time
type Snapshot struct {
	ID        int64          `json:"id"`
	ClientID  int64          `json:"client_id"`
	Provider  string         `json:"provider"`
	Resources Inventory      `json:"resources"`
	Summary   map[string]int `json:"summary"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// Response is the uniform inventory answer returned to callers
type Response struct {
	ClientID   int64          `json:"client_id"`
	ClientName string         `json:"client_name"`
	Provider   string         `json:"provider"`
	Resources  Inventory      `json:"resources"`
	Summary    map[string]int `json:"summary"`
	Cached     bool           `json:"cached"`
	FetchedAt  time.Time      `json:"fetched_at"`
	Error      string         `json:"error,omitempty"`
}

// DefaultCacheTTL is how long a snapshot stays fresh
const DefaultCacheTTL = 30 * time.Minute

// Summarize counts resources per category/type pair, keyed
// "<category>_<type>"
func Summarize(inv Inventory) map[string]int {
	summary := make(map[string]int)
	for category, types := range inv {
		for resourceType, items := range types {
			summary[fmt.Sprintf("%s_%s", category, resourceType)] = len(items)
		}
	}
	return summary
}

// TotalResources counts every record in the inventory
func TotalResources(inv Inventory) int {
	total := 0
	for _, types := range inv {
		for _, items := range types {
			total += len(items)
		}
	}
	return total
}

// Categories returns the inventory's category names in sorted order
func Categories(inv Inventory) []string {
	names := make([]string, 0, len(inv))
	for name := range inv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EmptyShape is the renderable zero inventory used for unknown providers
func EmptyShape() Inventory {
	return Inventory{
		"compute":    {},
		"database":   {},
		"storage":    {},
		"networking": {},
		"security":   {},
		"analytics":  {},
		"messaging":  {},
	}
}
