package recommend

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cloudscope/pkg/identity"
	"github.com/platinummonkey/cloudscope/pkg/inventory"
	"github.com/platinummonkey/cloudscope/pkg/observability"
)

type staticFetcher struct {
	provider  string
	resources inventory.Inventory
}

func (f *staticFetcher) Provider() string { return f.provider }

func (f *staticFetcher) Fetch(ctx context.Context, clientID int64, creds map[string]interface{}) *inventory.Result {
	return &inventory.Result{Resources: f.resources}
}

func setupServiceTest(t *testing.T, fetcher inventory.Fetcher) (*Service, int64) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT 'aws',
			metadata TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE inventory_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id INTEGER NOT NULL,
			provider TEXT NOT NULL,
			resources TEXT NOT NULL,
			summary TEXT NOT NULL,
			fetched_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	clients := identity.NewStore(db)
	client := &identity.Client{Name: "acme", Metadata: map[string]interface{}{"provider": fetcher.Provider()}}
	require.NoError(t, clients.CreateClient(context.Background(), client, time.Now().UTC()))

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	inv := inventory.NewService(clients, inventory.NewSnapshotStore(db), []inventory.Fetcher{fetcher}, logger)

	return NewService(inv, nil, logger), client.ID
}

func TestGetRecommendationsEndToEnd(t *testing.T) {
	fetcher := &staticFetcher{
		provider: "aws",
		resources: inventory.Inventory{
			"storage": {
				"s3_buckets": {
					{"name": "open", "encrypted": false, "versioning": false},
				},
			},
			"compute": {
				"lambda_functions": {
					{"name": "fn-1"},
				},
			},
		},
	}
	service, clientID := setupServiceTest(t, fetcher)

	resp, err := service.GetRecommendations(context.Background(), clientID)
	require.NoError(t, err)

	assert.Equal(t, "acme", resp.ClientName)
	assert.Equal(t, "aws", resp.Provider)

	// Rules produced three findings; the zero-savings low ones are filtered
	// from the response but counted in the summary
	assert.Equal(t, 3, resp.Summary.TotalRecommendations)
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "S3 buckets without encryption", resp.Recommendations[0].Title)
	assert.Equal(t, SeverityHigh, resp.Recommendations[0].Severity)
}

func TestGetRecommendationsUnknownClient(t *testing.T) {
	service, _ := setupServiceTest(t, &staticFetcher{provider: "aws"})

	_, err := service.GetRecommendations(context.Background(), 999)
	assert.Error(t, err)
}

func TestGetRecommendationsSortedBySeverity(t *testing.T) {
	fetcher := &staticFetcher{
		provider: "aws",
		resources: inventory.Inventory{
			"storage": {
				"s3_buckets": {
					{"name": "b", "encrypted": false, "versioning": false},
				},
			},
			"networking": {
				"security_groups": {
					{"id": "sg-1", "open_ports": []int{22}},
				},
			},
		},
	}
	service, clientID := setupServiceTest(t, fetcher)

	resp, err := service.GetRecommendations(context.Background(), clientID)
	require.NoError(t, err)

	require.Len(t, resp.Recommendations, 2)
	assert.Equal(t, SeverityCritical, resp.Recommendations[0].Severity)
	assert.Equal(t, SeverityHigh, resp.Recommendations[1].Severity)
}
