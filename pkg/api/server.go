// Package api assembles the cloudscope HTTP server: routing, middleware
// chains, and the service graph behind them.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/cloudscope/pkg/audit"
	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/chat"
	"github.com/platinummonkey/cloudscope/pkg/config"
	"github.com/platinummonkey/cloudscope/pkg/identity"
	"github.com/platinummonkey/cloudscope/pkg/inventory"
	awsfetch "github.com/platinummonkey/cloudscope/pkg/inventory/aws"
	azurefetch "github.com/platinummonkey/cloudscope/pkg/inventory/azure"
	gcpfetch "github.com/platinummonkey/cloudscope/pkg/inventory/gcp"
	"github.com/platinummonkey/cloudscope/pkg/middleware"
	"github.com/platinummonkey/cloudscope/pkg/observability"
	"github.com/platinummonkey/cloudscope/pkg/rbac"
	"github.com/platinummonkey/cloudscope/pkg/recommend"
)

// Server is the assembled cloudscope API
type Server struct {
	cfg    *config.Config
	logger *observability.Logger

	httpServer   *http.Server
	healthServer *http.Server
}

// Components is the service graph the server is built from. Exposed so the
// refresher binary can reuse the same wiring without the HTTP layer.
type Components struct {
	RBAC      *rbac.Manager
	Identity  *identity.Store
	Inventory *inventory.Service
	Snapshots *inventory.SnapshotStore
	Recommend *recommend.Service
	Chat      *chat.Service
	Audit     *audit.DBLogger
	Metrics   *observability.Metrics
	Registry  *prometheus.Registry
}

// BuildComponents wires the full service graph over the given stores
func BuildComponents(cfg *config.Config, logger *observability.Logger, db *sql.DB, redisClient *goredis.Client) (*Components, error) {
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, fmt.Errorf("create audit logger: %w", err)
	}

	rbacManager := rbac.NewManager(db, auditLogger, metrics)
	identityStore := identity.NewStore(db)

	fetchers := []inventory.Fetcher{
		awsfetch.New(logger, metrics),
		azurefetch.New(logger, metrics),
		gcpfetch.New(logger, metrics),
	}
	snapshots := inventory.NewSnapshotStore(db)
	inventoryService := inventory.NewService(
		identityStore,
		snapshots,
		fetchers,
		logger,
	).WithCacheTTL(cfg.Inventory.CacheTTL)
	if metrics != nil {
		inventoryService = inventoryService.WithMetrics(metrics)
	}

	enricher := recommend.NewEnricher(cfg.OpenAI.APIKey, redisClient, logger)
	if metrics != nil {
		enricher = enricher.WithMetrics(metrics)
	}
	recommendService := recommend.NewService(inventoryService, enricher, logger)
	if metrics != nil {
		recommendService = recommendService.WithMetrics(metrics)
	}

	chatService := chat.NewService(chat.NewStore(db), inventoryService, cfg.OpenAI.APIKey, logger)

	return &Components{
		RBAC:      rbacManager,
		Identity:  identityStore,
		Inventory: inventoryService,
		Snapshots: snapshots,
		Recommend: recommendService,
		Chat:      chatService,
		Audit:     auditLogger,
		Metrics:   metrics,
		Registry:  registry,
	}, nil
}

// NewServer builds the HTTP server and its separate health/metrics server
func NewServer(cfg *config.Config, logger *observability.Logger, db *sql.DB, redisClient *goredis.Client) (*Server, *Components, error) {
	components, err := BuildComponents(cfg, logger, db, redisClient)
	if err != nil {
		return nil, nil, err
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	auditLogger := components.Audit

	identityHandlers := identity.NewHandlers(components.Identity, components.RBAC.Engine(), tokens, auditLogger)
	inventoryHandlers := inventory.NewHandlers(components.Inventory, components.RBAC.Engine())
	recommendHandlers := recommend.NewHandlers(components.Recommend, components.RBAC.Engine())
	chatHandlers := chat.NewHandlers(components.Chat, components.RBAC.Engine(), auditLogger)
	auditHandlers := audit.NewHandlers(auditLogger, components.RBAC.Engine())

	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)
	if components.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(components.Metrics))
	}
	if redisClient != nil {
		router.Use(middleware.NewRateLimitMiddleware(redisClient).Handler)
	}

	// Every route requires a bearer token except login
	authMW := middleware.NewAuthMiddleware(tokens)
	router.Use(func(next http.Handler) http.Handler {
		authed := authMW.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v1/auth/login" {
				next.ServeHTTP(w, r)
				return
			}
			authed.ServeHTTP(w, r)
		})
	})

	identityHandlers.RegisterPublicRoutes(router)
	components.RBAC.RegisterRoutes(router)
	identityHandlers.RegisterRoutes(router)
	inventoryHandlers.RegisterRoutes(router)
	recommendHandlers.RegisterRoutes(router)
	chatHandlers.RegisterRoutes(router)
	auditHandlers.RegisterRoutes(router)

	var handler http.Handler = router
	if cfg.Observability.OTel.Enabled {
		handler = otelhttp.NewHandler(handler, "cloudscope.http",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}))
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, components.Registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	return &Server{
		cfg:          cfg,
		logger:       logger,
		httpServer:   httpServer,
		healthServer: healthServer,
	}, components, nil
}

// HTTPServer returns the main API server
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Start serves the API and the health endpoints until either listener fails
func (s *Server) Start() error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.WithField("addr", s.healthServer.Addr).Info("health server listening")
		if err := s.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.logger.WithField("addr", s.httpServer.Addr).Info("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Shutdown stops both listeners
func (s *Server) Shutdown(ctx context.Context) error {
	healthErr := s.healthServer.Shutdown(ctx)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return healthErr
}
