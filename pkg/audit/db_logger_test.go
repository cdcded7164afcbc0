package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupAuditDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			user_id INTEGER,
			username TEXT,
			resource_type TEXT,
			resource_id TEXT,
			ip_address TEXT,
			request_id TEXT,
			message TEXT,
			error_message TEXT,
			metadata TEXT
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func TestDBLoggerLogAndQuery(t *testing.T) {
	db := setupAuditDB(t)
	logger, err := NewDBLogger(db)
	if err != nil {
		t.Fatalf("NewDBLogger failed: %v", err)
	}

	ctx := context.Background()
	userID := int64(7)

	err = logger.LogAuthentication(ctx, EventTypeAuthLogin, &userID, "alice", EventStatusSuccess, "login ok")
	if err != nil {
		t.Fatalf("LogAuthentication failed: %v", err)
	}

	err = logger.LogAuthorization(ctx, EventTypeAuthzAccessDenied, &userID, ResourceTypeClient, "9", EventStatusDenied, "not assigned")
	if err != nil {
		t.Fatalf("LogAuthorization failed: %v", err)
	}

	events, err := logger.Query(ctx, SearchFilter{UserID: &userID})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	// Most recent first
	denied, err := logger.Query(ctx, SearchFilter{Status: EventStatusDenied})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(denied) != 1 {
		t.Fatalf("Expected 1 denied event, got %d", len(denied))
	}
	if denied[0].ResourceID != "9" {
		t.Errorf("Expected resource_id 9, got %s", denied[0].ResourceID)
	}
}

func TestDBLoggerQueryTimeRange(t *testing.T) {
	db := setupAuditDB(t)
	logger, err := NewDBLogger(db)
	if err != nil {
		t.Fatalf("NewDBLogger failed: %v", err)
	}

	ctx := context.Background()
	old := &Event{
		Timestamp: time.Now().UTC().Add(-48 * time.Hour),
		EventType: EventTypeAdminUserCreate,
		Status:    EventStatusSuccess,
	}
	if err := logger.Log(ctx, old); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	recent := &Event{
		Timestamp: time.Now().UTC(),
		EventType: EventTypeAdminUserCreate,
		Status:    EventStatusSuccess,
	}
	if err := logger.Log(ctx, recent); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	since := time.Now().UTC().Add(-time.Hour)
	events, err := logger.Query(ctx, SearchFilter{StartTime: &since})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected 1 event in range, got %d", len(events))
	}
}

func TestFromContextReturnsNoOpWhenUnset(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil {
		t.Fatal("Expected no-op logger, got nil")
	}
	if err := logger.Log(context.Background(), &Event{}); err != nil {
		t.Errorf("No-op logger should never error, got %v", err)
	}
}
