package inventory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
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

	return db
}

func sampleInventory() Inventory {
	return Inventory{
		"compute": {
			"ec2_instances": {
				{"id": "i-1", "state": "running"},
				{"id": "i-2", "state": "stopped"},
			},
		},
		"storage": {
			"s3_buckets": {
				{"name": "logs", "encrypted": true},
			},
		},
	}
}

func TestSnapshotStorePutAndGetLatest(t *testing.T) {
	store := NewSnapshotStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first, err := store.Put(ctx, 1, "aws", sampleInventory(), Summarize(sampleInventory()), now.Add(-time.Hour))
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	second, err := store.Put(ctx, 1, "aws", sampleInventory(), Summarize(sampleInventory()), now)
	require.NoError(t, err)

	latest, err := store.GetLatest(ctx, 1, "aws")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, 2, latest.Summary["compute_ec2_instances"])
	assert.Len(t, latest.Resources["compute"]["ec2_instances"], 2)

	// Other clients and providers stay isolated
	other, err := store.GetLatest(ctx, 2, "aws")
	require.NoError(t, err)
	assert.Nil(t, other)

	other, err = store.GetLatest(ctx, 1, "gcp")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestGetIfFresh(t *testing.T) {
	store := NewSnapshotStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := store.Put(ctx, 1, "aws", sampleInventory(), Summarize(sampleInventory()), now.Add(-10*time.Minute))
	require.NoError(t, err)

	fresh, err := store.GetIfFresh(ctx, 1, "aws", 30*time.Minute, now)
	require.NoError(t, err)
	assert.NotNil(t, fresh)

	// A snapshot exactly at the TTL boundary counts as stale
	stale, err := store.GetIfFresh(ctx, 1, "aws", 10*time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestPrune(t *testing.T) {
	store := NewSnapshotStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := store.Put(ctx, 1, "aws", sampleInventory(), Summarize(sampleInventory()), now.Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = store.Put(ctx, 1, "aws", sampleInventory(), Summarize(sampleInventory()), now)
	require.NoError(t, err)

	pruned, err := store.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	latest, err := store.GetLatest(ctx, 1, "aws")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, now, latest.FetchedAt.UTC())
}

func TestSummarize(t *testing.T) {
	summary := Summarize(sampleInventory())
	assert.Equal(t, map[string]int{
		"compute_ec2_instances": 2,
		"storage_s3_buckets":    1,
	}, summary)

	assert.Equal(t, 3, TotalResources(sampleInventory()))
	assert.Empty(t, Summarize(Inventory{}))
}

func TestEmptyShapeCategories(t *testing.T) {
	shape := EmptyShape()
	assert.Equal(t, []string{
		"analytics", "compute", "database", "messaging", "networking", "security", "storage",
	}, Categories(shape))
	assert.Equal(t, 0, TotalResources(shape))
}
