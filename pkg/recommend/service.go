package recommend

import (
	"context"

	"github.com/platinummonkey/cloudscope/pkg/inventory"
	"github.com/platinummonkey/cloudscope/pkg/observability"
)

// Service produces recommendations from the inventory pipeline: analyze the
// current inventory, summarize everything, then filter, sort, and enrich
// what gets shown.
type Service struct {
	inventory *inventory.Service
	enricher  *Enricher
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewService creates a recommendation service. enricher may be nil.
func NewService(inv *inventory.Service, enricher *Enricher, logger *observability.Logger) *Service {
	return &Service{inventory: inv, enricher: enricher, logger: logger}
}

// WithMetrics attaches Prometheus metrics to the service
func (s *Service) WithMetrics(metrics *observability.Metrics) *Service {
	s.metrics = metrics
	return s
}

// GetRecommendations analyzes the client's inventory and returns filtered,
// sorted, optionally enriched findings. The summary covers the full rule
// output, including findings filtered from the response.
func (s *Service) GetRecommendations(ctx context.Context, clientID int64) (*Response, error) {
	inv, err := s.inventory.GetInventory(ctx, clientID, false)
	if err != nil {
		return nil, err
	}

	findings := Analyze(inv.Provider, inv.Resources)
	summary := Summarize(findings)

	if s.metrics != nil {
		for _, finding := range findings {
			s.metrics.FindingsTotal.WithLabelValues(inv.Provider, finding.Severity).Inc()
		}
	}

	shown := Filter(findings)
	Sort(shown)

	if s.enricher != nil {
		shown = s.enricher.Enrich(ctx, inv.Provider, shown)
	}

	return &Response{
		ClientID:        inv.ClientID,
		ClientName:      inv.ClientName,
		Provider:        inv.Provider,
		Recommendations: shown,
		Summary:         summary,
	}, nil
}
