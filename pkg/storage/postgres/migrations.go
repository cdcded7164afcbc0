package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order and must be idempotent
var migrations = []string{
	// Roles and permission catalog
	`CREATE TABLE IF NOT EXISTS roles (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		description TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS permissions (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		description TEXT,
		category VARCHAR(50)
	)`,

	`CREATE TABLE IF NOT EXISTS role_permissions (
		id BIGSERIAL PRIMARY KEY,
		role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
		UNIQUE(role_id, permission_id)
	)`,

	// Users and tenants
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		email VARCHAR(255),
		hashed_password VARCHAR(255) NOT NULL,
		role_id BIGINT NOT NULL REFERENCES roles(id),
		assigned_client_id BIGINT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS clients (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		provider VARCHAR(50) NOT NULL DEFAULT 'aws',
		metadata JSONB,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,

	// Per-user additive permission overrides
	`CREATE TABLE IF NOT EXISTS user_permissions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
		granted_by BIGINT,
		granted_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE(user_id, permission_id)
	)`,

	// Per-user tenant visibility
	`CREATE TABLE IF NOT EXISTS user_clients (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		client_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		access_level VARCHAR(20) NOT NULL DEFAULT 'viewer',
		granted_by BIGINT,
		granted_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE(user_id, client_id)
	)`,

	// Append-only inventory snapshots
	`CREATE TABLE IF NOT EXISTS inventory_snapshots (
		id BIGSERIAL PRIMARY KEY,
		client_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		provider VARCHAR(50) NOT NULL,
		resources JSONB NOT NULL,
		summary JSONB NOT NULL,
		fetched_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_snapshots_client_provider
		ON inventory_snapshots(client_id, provider, fetched_at DESC)`,

	// Chat history
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id BIGSERIAL PRIMARY KEY,
		client_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role VARCHAR(20) NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_chat_messages_client
		ON chat_messages(client_id, created_at)`,

	`CREATE INDEX IF NOT EXISTS idx_user_clients_user ON user_clients(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_permissions_user ON user_permissions(user_id)`,
}

// RunMigrations applies the cloudscope schema
func RunMigrations(ctx context.Context, db *sql.DB) error {
	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
