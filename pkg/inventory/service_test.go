package inventory

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cloudscope/pkg/identity"
	"github.com/platinummonkey/cloudscope/pkg/observability"
)

type fakeFetcher struct {
	mu       sync.Mutex
	provider string
	result   *Result
	panics   bool
	calls    int
}

func (f *fakeFetcher) Provider() string { return f.provider }

func (f *fakeFetcher) Fetch(ctx context.Context, clientID int64, creds map[string]interface{}) *Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	return f.result
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupService(t *testing.T, fetchers ...Fetcher) (*Service, *identity.Store, *SnapshotStore, *testClock) {
	t.Helper()

	db := setupTestDB(t)
	clients := identity.NewStore(db)
	snapshots := NewSnapshotStore(db)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}

	service := NewService(clients, snapshots, fetchers, logger).WithClock(clock.Now)
	return service, clients, snapshots, clock
}

func createClient(t *testing.T, store *identity.Store, metadata map[string]interface{}) int64 {
	t.Helper()
	client := &identity.Client{Name: "acme", Metadata: metadata}
	require.NoError(t, store.CreateClient(context.Background(), client, time.Now().UTC()))
	return client.ID
}

func TestGetInventoryColdCache(t *testing.T) {
	fetcher := &fakeFetcher{provider: "aws", result: &Result{Resources: sampleInventory()}}
	service, clients, snapshots, _ := setupService(t, fetcher)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	resp, err := service.GetInventory(context.Background(), clientID, false)
	require.NoError(t, err)

	assert.False(t, resp.Cached)
	assert.Equal(t, "aws", resp.Provider)
	assert.Equal(t, "acme", resp.ClientName)
	assert.Equal(t, 2, resp.Summary["compute_ec2_instances"])
	assert.Equal(t, 1, fetcher.callCount())

	// The fetch result was persisted as a snapshot
	stored, err := snapshots.GetLatest(context.Background(), clientID, "aws")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, resp.Summary, stored.Summary)
}

func TestGetInventoryFreshCacheHit(t *testing.T) {
	fetcher := &fakeFetcher{provider: "aws", result: &Result{Resources: sampleInventory()}}
	service, clients, _, clock := setupService(t, fetcher)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	first, err := service.GetInventory(context.Background(), clientID, false)
	require.NoError(t, err)
	require.False(t, first.Cached)

	clock.Advance(10 * time.Minute)

	second, err := service.GetInventory(context.Background(), clientID, false)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Resources, second.Resources)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestGetInventoryStaleCacheRefetches(t *testing.T) {
	fetcher := &fakeFetcher{provider: "aws", result: &Result{Resources: sampleInventory()}}
	service, clients, _, clock := setupService(t, fetcher)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	_, err := service.GetInventory(context.Background(), clientID, false)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)

	resp, err := service.GetInventory(context.Background(), clientID, false)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestGetInventoryForceRefresh(t *testing.T) {
	fetcher := &fakeFetcher{provider: "aws", result: &Result{Resources: sampleInventory()}}
	service, clients, _, clock := setupService(t, fetcher)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	first, err := service.GetInventory(context.Background(), clientID, false)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	second, err := service.GetInventory(context.Background(), clientID, true)
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.True(t, second.FetchedAt.After(first.FetchedAt))
	assert.Equal(t, 2, fetcher.callCount())
}

func TestGetInventoryUnknownProvider(t *testing.T) {
	service, clients, snapshots, _ := setupService(t)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "oraclecloud"})

	resp, err := service.GetInventory(context.Background(), clientID, false)
	require.NoError(t, err)

	assert.False(t, resp.Cached)
	assert.Contains(t, resp.Error, "Unsupported provider")
	assert.Equal(t, EmptyShape(), resp.Resources)
	assert.Empty(t, resp.Summary)

	// Unknown providers never produce snapshots
	stored, err := snapshots.GetLatest(context.Background(), clientID, "oraclecloud")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestGetInventoryFetcherPanic(t *testing.T) {
	fetcher := &fakeFetcher{provider: "aws", panics: true}
	service, clients, _, _ := setupService(t, fetcher)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	resp, err := service.GetInventory(context.Background(), clientID, false)
	require.NoError(t, err)

	assert.Contains(t, resp.Error, "boom")
	assert.Equal(t, EmptyShape(), resp.Resources)
}

func TestGetInventoryProviderError(t *testing.T) {
	fetcher := &fakeFetcher{provider: "aws", result: &Result{
		Resources: EmptyShape(),
		Error:     "Missing AWS credentials",
	}}
	service, clients, _, _ := setupService(t, fetcher)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	resp, err := service.GetInventory(context.Background(), clientID, false)
	require.NoError(t, err)
	assert.Equal(t, "Missing AWS credentials", resp.Error)
}

func TestGetInventoryUnknownClient(t *testing.T) {
	service, _, _, _ := setupService(t)

	_, err := service.GetInventory(context.Background(), 999, false)
	assert.Error(t, err)
}

func TestRefreshAll(t *testing.T) {
	fetcher := &fakeFetcher{provider: "aws", result: &Result{Resources: sampleInventory()}}
	service, clients, _, _ := setupService(t, fetcher)

	createClient(t, clients, map[string]interface{}{"provider": "aws"})
	createClient(t, clients, map[string]interface{}{"provider": "aws"})

	refreshed, err := service.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
	assert.Equal(t, 2, fetcher.callCount())
}

type fakeDetailFetcher struct {
	fakeFetcher
	details     map[string]interface{}
	panics      bool
	gotType     string
	gotResource string
}

func (f *fakeDetailFetcher) FetchDetails(ctx context.Context, creds map[string]interface{}, resourceType, resourceID string) map[string]interface{} {
	f.gotType = resourceType
	f.gotResource = resourceID
	if f.panics {
		panic("boom")
	}
	return f.details
}

func TestGetResourceDetails(t *testing.T) {
	fetcher := &fakeDetailFetcher{
		fakeFetcher: fakeFetcher{provider: "aws"},
		details:     map[string]interface{}{"instance": map[string]interface{}{"id": "i-1"}},
	}
	service, clients, _, _ := setupService(t, fetcher)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	resp, err := service.GetResourceDetails(context.Background(), clientID, "ec2_instance", "i-1")
	require.NoError(t, err)

	assert.Equal(t, clientID, resp.ClientID)
	assert.Equal(t, "aws", resp.Provider)
	assert.Equal(t, "ec2_instance", resp.ResourceType)
	assert.Equal(t, "i-1", resp.ResourceID)
	assert.Equal(t, fetcher.details, resp.Details)
	assert.Equal(t, "ec2_instance", fetcher.gotType)
	assert.Equal(t, "i-1", fetcher.gotResource)
}

func TestGetResourceDetailsUnknownProvider(t *testing.T) {
	// A fetcher without detail support counts as unknown for drill-downs
	fetcher := &fakeFetcher{provider: "aws", result: &Result{Resources: sampleInventory()}}
	service, clients, _, _ := setupService(t, fetcher)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	resp, err := service.GetResourceDetails(context.Background(), clientID, "ec2_instance", "i-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"error": "Unknown provider"}, resp.Details)
}

func TestGetResourceDetailsFetcherPanic(t *testing.T) {
	fetcher := &fakeDetailFetcher{fakeFetcher: fakeFetcher{provider: "aws"}, panics: true}
	service, clients, _, _ := setupService(t, fetcher)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	resp, err := service.GetResourceDetails(context.Background(), clientID, "ec2_instance", "i-1")
	require.NoError(t, err)
	assert.Equal(t, "Detail fetch failed: boom", resp.Details["error"])
}

func TestGetCosts(t *testing.T) {
	service, clients, _, _ := setupService(t)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	resp, err := service.GetCosts(context.Background(), clientID, 30)
	require.NoError(t, err)

	assert.Equal(t, "acme", resp.ClientName)
	assert.Equal(t, 30, resp.PeriodDays)
	assert.Equal(t, 493.80, resp.CostsUSD["total"])
	assert.Equal(t, 245.50, resp.CostsUSD["compute"])
	assert.Equal(t, 493.80, resp.ProjectedMonthly)
}

func TestGetCostsScalesProjection(t *testing.T) {
	service, clients, _, _ := setupService(t)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "azure"})

	resp, err := service.GetCosts(context.Background(), clientID, 15)
	require.NoError(t, err)

	assert.Equal(t, 15, resp.PeriodDays)
	assert.Equal(t, 284.80, resp.CostsUSD["total"])
	assert.Equal(t, 569.60, resp.ProjectedMonthly)
}

func TestGetCostsUnknownProvider(t *testing.T) {
	service, clients, _, _ := setupService(t)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "digitalocean"})

	resp, err := service.GetCosts(context.Background(), clientID, 30)
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"total": 0}, resp.CostsUSD)
	assert.Equal(t, 0.0, resp.ProjectedMonthly)
}

func TestGetCostsDefaultsPeriod(t *testing.T) {
	service, clients, _, _ := setupService(t)
	clientID := createClient(t, clients, map[string]interface{}{"provider": "aws"})

	resp, err := service.GetCosts(context.Background(), clientID, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, resp.PeriodDays)
}
