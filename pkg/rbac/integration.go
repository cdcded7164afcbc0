package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/cloudscope/pkg/audit"
	"github.com/platinummonkey/cloudscope/pkg/observability"
	"github.com/platinummonkey/cloudscope/pkg/storage/postgres"
)

// Manager wires the authorization components together
type Manager struct {
	store      *Store
	engine     *Engine
	handlers   *Handlers
	middleware *PermissionMiddleware
}

// NewManager creates a new authorization manager
func NewManager(db *sql.DB, auditLogger audit.Logger, metrics *observability.Metrics) *Manager {
	store := NewStore(db)
	engine := NewEngine(store)
	if metrics != nil {
		engine = engine.WithMetrics(metrics)
	}
	handlers := NewHandlers(store, engine, auditLogger)
	middleware := NewPermissionMiddleware(engine)

	return &Manager{
		store:      store,
		engine:     engine,
		handlers:   handlers,
		middleware: middleware,
	}
}

// Initialize runs schema migrations and seeds the permission catalog and
// built-in roles
func (m *Manager) Initialize(ctx context.Context) error {
	if err := postgres.RunMigrations(ctx, m.store.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := Seed(ctx, m.store, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to seed authorization data: %w", err)
	}

	return nil
}

// RegisterRoutes registers authorization routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// Store returns the authorization store
func (m *Manager) Store() *Store {
	return m.store
}

// Engine returns the authorization engine
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}
