package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotStore persists inventory snapshots. Rows are append-only; reads
// always take the most recent row for a client/provider pair.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a snapshot store backed by the given database
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

const snapshotColumns = "id, client_id, provider, resources, summary, fetched_at"

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*Snapshot, error) {
	var (
		s            Snapshot
		resourcesRaw []byte
		summaryRaw   []byte
	)
	if err := row.Scan(&s.ID, &s.ClientID, &s.Provider, &resourcesRaw, &summaryRaw, &s.FetchedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resourcesRaw, &s.Resources); err != nil {
		return nil, fmt.Errorf("decode snapshot resources: %w", err)
	}
	if err := json.Unmarshal(summaryRaw, &s.Summary); err != nil {
		return nil, fmt.Errorf("decode snapshot summary: %w", err)
	}
	return &s, nil
}

// GetLatest returns the most recent snapshot for a client/provider pair,
// regardless of age. Returns nil with no error when none exists.
func (s *SnapshotStore) GetLatest(ctx context.Context, clientID int64, provider string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM inventory_snapshots
		WHERE client_id = $1 AND provider = $2
		ORDER BY fetched_at DESC
		LIMIT 1`, clientID, provider)

	snapshot, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return snapshot, nil
}

// GetIfFresh returns the most recent snapshot only if it is younger than
// maxAge relative to now. A stale or missing snapshot yields nil, nil.
func (s *SnapshotStore) GetIfFresh(ctx context.Context, clientID int64, provider string, maxAge time.Duration, now time.Time) (*Snapshot, error) {
	snapshot, err := s.GetLatest(ctx, clientID, provider)
	if err != nil || snapshot == nil {
		return nil, err
	}
	if now.Sub(snapshot.FetchedAt) >= maxAge {
		return nil, nil
	}
	return snapshot, nil
}

// Put appends a new snapshot row and returns it with its assigned ID
func (s *SnapshotStore) Put(ctx context.Context, clientID int64, provider string, resources Inventory, summary map[string]int, fetchedAt time.Time) (*Snapshot, error) {
	resourcesRaw, err := json.Marshal(resources)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot resources: %w", err)
	}
	summaryRaw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot summary: %w", err)
	}

	snapshot := &Snapshot{
		ClientID:  clientID,
		Provider:  provider,
		Resources: resources,
		Summary:   summary,
		FetchedAt: fetchedAt,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO inventory_snapshots (client_id, provider, resources, summary, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		clientID, provider, resourcesRaw, summaryRaw, fetchedAt,
	).Scan(&snapshot.ID)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	return snapshot, nil
}

// Prune deletes snapshots fetched before the cutoff and reports how many
// rows were removed
func (s *SnapshotStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM inventory_snapshots WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return result.RowsAffected()
}
