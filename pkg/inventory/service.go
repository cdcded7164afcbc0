package inventory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/platinummonkey/cloudscope/pkg/identity"
	"github.com/platinummonkey/cloudscope/pkg/observability"
)

// Service answers inventory requests, serving fresh snapshots from the
// database and falling back to a live provider fetch when the cache is
// stale or a refresh is forced.
type Service struct {
	clients   *identity.Store
	snapshots *SnapshotStore
	fetchers  map[string]Fetcher
	logger    *observability.Logger
	metrics   *observability.Metrics
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewService creates an inventory service over the given fetchers
func NewService(clients *identity.Store, snapshots *SnapshotStore, fetchers []Fetcher, logger *observability.Logger) *Service {
	byProvider := make(map[string]Fetcher, len(fetchers))
	for _, f := range fetchers {
		byProvider[f.Provider()] = f
	}
	return &Service{
		clients:   clients,
		snapshots: snapshots,
		fetchers:  byProvider,
		logger:    logger,
		cacheTTL:  DefaultCacheTTL,
		now:       time.Now,
	}
}

// WithMetrics attaches Prometheus metrics to the service
func (s *Service) WithMetrics(metrics *observability.Metrics) *Service {
	s.metrics = metrics
	return s
}

// WithCacheTTL overrides the snapshot freshness window
func (s *Service) WithCacheTTL(ttl time.Duration) *Service {
	s.cacheTTL = ttl
	return s
}

// WithClock overrides the time source, used by tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetInventory returns the client's resource inventory. A snapshot younger
// than the cache TTL is served as-is unless forceRefresh is set; otherwise
// the provider is fetched live and the result stored as a new snapshot.
// Only a missing client or a storage failure yields an error; provider
// failures surface in the response's Error field.
func (s *Service) GetInventory(ctx context.Context, clientID int64, forceRefresh bool) (*Response, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	provider := client.ProviderName()
	now := s.now().UTC()

	if !forceRefresh {
		snapshot, err := s.snapshots.GetIfFresh(ctx, clientID, provider, s.cacheTTL, now)
		if err != nil {
			return nil, err
		}
		if snapshot != nil {
			if s.metrics != nil {
				s.metrics.SnapshotHitsTotal.WithLabelValues(provider).Inc()
			}
			return &Response{
				ClientID:   client.ID,
				ClientName: client.Name,
				Provider:   provider,
				Resources:  snapshot.Resources,
				Summary:    snapshot.Summary,
				Cached:     true,
				FetchedAt:  snapshot.FetchedAt,
			}, nil
		}
	}
	if s.metrics != nil {
		s.metrics.SnapshotMissesTotal.WithLabelValues(provider).Inc()
	}

	fetcher, ok := s.fetchers[provider]
	if !ok {
		// Unknown providers still render: empty inventory, nothing cached
		return &Response{
			ClientID:   client.ID,
			ClientName: client.Name,
			Provider:   provider,
			Resources:  EmptyShape(),
			Summary:    map[string]int{},
			Cached:     false,
			FetchedAt:  now,
			Error:      fmt.Sprintf("Unsupported provider: %s", provider),
		}, nil
	}

	result := s.fetch(ctx, fetcher, client)
	summary := Summarize(result.Resources)

	snapshot, err := s.snapshots.Put(ctx, clientID, provider, result.Resources, summary, now)
	if err != nil {
		// Serve the fetched data even if persisting it failed
		s.logger.WithError(err).WithField("client_id", clientID).Warn("failed to store inventory snapshot")
	} else {
		if s.metrics != nil {
			s.metrics.SnapshotsStored.WithLabelValues(provider).Inc()
		}
		now = snapshot.FetchedAt
	}

	return &Response{
		ClientID:   client.ID,
		ClientName: client.Name,
		Provider:   provider,
		Resources:  result.Resources,
		Summary:    summary,
		Cached:     false,
		FetchedAt:  now,
		Error:      result.Error,
	}, nil
}

// fetch runs the provider fetch with panic absorption. A panicking fetcher
// degrades to an empty inventory instead of taking down the request.
func (s *Service) fetch(ctx context.Context, fetcher Fetcher, client *identity.Client) (result *Result) {
	provider := fetcher.Provider()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(map[string]interface{}{
				"provider":  provider,
				"client_id": client.ID,
				"panic":     fmt.Sprint(r),
			}).Error("provider fetch panicked")
			if s.metrics != nil {
				s.metrics.ProviderFetchTotal.WithLabelValues(provider, "panic").Inc()
			}
			result = &Result{Resources: EmptyShape(), Error: fmt.Sprintf("Provider fetch failed: %v", r)}
		}
	}()

	result = fetcher.Fetch(ctx, client.ID, client.Metadata)
	if result == nil {
		result = &Result{Resources: EmptyShape(), Error: "Provider returned no data"}
	}
	if result.Resources == nil {
		result.Resources = EmptyShape()
	}

	if s.metrics != nil {
		status := "ok"
		if result.Error != "" {
			status = "error"
		}
		s.metrics.ProviderFetchTotal.WithLabelValues(provider, status).Inc()
		s.metrics.ProviderFetchDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}
	return result
}

// GetResourceDetails drills into one resource with a live provider lookup.
// Provider and lookup failures never error: they surface through an "error"
// key in the details map so the endpoint always renders.
func (s *Service) GetResourceDetails(ctx context.Context, clientID int64, resourceType, resourceID string) (resp *DetailsResponse, err error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	provider := client.ProviderName()

	resp = &DetailsResponse{
		ClientID:     client.ID,
		Provider:     provider,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}

	fetcher, ok := s.fetchers[provider].(DetailFetcher)
	if !ok {
		resp.Details = map[string]interface{}{"error": "Unknown provider"}
		return resp, nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(map[string]interface{}{
				"provider":  provider,
				"client_id": client.ID,
				"panic":     fmt.Sprint(r),
			}).Error("resource detail fetch panicked")
			resp.Details = map[string]interface{}{"error": fmt.Sprintf("Detail fetch failed: %v", r)}
		}
	}()

	resp.Details = fetcher.FetchDetails(ctx, client.Metadata, resourceType, resourceID)
	if resp.Details == nil {
		resp.Details = map[string]interface{}{}
	}
	return resp, nil
}

// Flat-rate cost estimate tables, pending real billing API integration
var costEstimates = map[string]map[string]float64{
	"aws": {
		"compute":  245.50,
		"storage":  89.20,
		"network":  34.10,
		"database": 125.00,
		"total":    493.80,
	},
	"azure": {
		"compute":  189.00,
		"storage":  67.50,
		"network":  28.30,
		"database": 0,
		"total":    284.80,
	},
}

// GetCosts estimates the client's spend over the period and projects it to a
// month
func (s *Service) GetCosts(ctx context.Context, clientID int64, periodDays int) (*CostsResponse, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if periodDays <= 0 {
		periodDays = 30
	}
	provider := client.ProviderName()

	costs, ok := costEstimates[provider]
	if !ok {
		costs = map[string]float64{"total": 0}
	}

	projected := costs["total"] * (30.0 / float64(periodDays))
	return &CostsResponse{
		ClientID:         client.ID,
		ClientName:       client.Name,
		Provider:         provider,
		PeriodDays:       periodDays,
		CostsUSD:         costs,
		ProjectedMonthly: math.Round(projected*100) / 100,
	}, nil
}

// RefreshAll force-refreshes every active client's inventory. Used by the
// background refresher; individual client failures are logged and skipped.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	clients, err := s.clients.ListActiveClients(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, client := range clients {
		resp, err := s.GetInventory(ctx, client.ID, true)
		if err != nil {
			s.logger.WithError(err).WithField("client_id", client.ID).Warn("inventory refresh failed")
			continue
		}
		if resp.Error != "" {
			s.logger.WithFields(map[string]interface{}{
				"client_id": client.ID,
				"provider":  resp.Provider,
				"error":     resp.Error,
			}).Warn("inventory refresh completed with provider error")
		}
		refreshed++
	}
	return refreshed, nil
}
