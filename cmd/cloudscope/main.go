// Command cloudscope runs the cloudscope API server.
package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/platinummonkey/cloudscope/pkg/api"
	"github.com/platinummonkey/cloudscope/pkg/auth"
	"github.com/platinummonkey/cloudscope/pkg/config"
	"github.com/platinummonkey/cloudscope/pkg/observability"
	"github.com/platinummonkey/cloudscope/pkg/storage/postgres"
	redisstore "github.com/platinummonkey/cloudscope/pkg/storage/redis"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	db, err := postgres.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	// Redis is optional: without it, rate limiting and enrichment caching
	// are disabled but the API still serves
	redisClient, err := redisstore.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, continuing without it")
		redisClient = nil
	}

	server, components, err := api.NewServer(cfg, logger, db, redisClient)
	if err != nil {
		logger.WithError(err).Error("failed to build server")
		os.Exit(1)
	}

	if err := components.RBAC.Initialize(ctx); err != nil {
		logger.WithError(err).Error("failed to initialize authorization data")
		os.Exit(1)
	}

	if err := seedBootstrapUser(ctx, components, logger); err != nil {
		logger.WithError(err).Error("failed to seed bootstrap user")
		os.Exit(1)
	}

	if components.Metrics != nil {
		go reportDBStats(db, components.Metrics)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, nil, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(server.Shutdown)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}
}

// seedBootstrapUser guarantees the protected superadmin account exists
func seedBootstrapUser(ctx context.Context, components *api.Components, logger *observability.Logger) error {
	username := envOr("CLOUDSCOPE_BOOTSTRAP_USERNAME", "admin")
	password := os.Getenv("CLOUDSCOPE_BOOTSTRAP_PASSWORD")
	if password == "" {
		password = "admin"
		logger.Warn("CLOUDSCOPE_BOOTSTRAP_PASSWORD not set, using default; change it immediately")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return components.Identity.EnsureBootstrapUser(ctx, username,
		envOr("CLOUDSCOPE_BOOTSTRAP_EMAIL", ""), hash, time.Now().UTC())
}

// reportDBStats mirrors connection pool stats into Prometheus gauges
func reportDBStats(db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stats := db.Stats()
		metrics.DBConnectionsActive.Set(float64(stats.InUse))
		metrics.DBConnectionsIdle.Set(float64(stats.Idle))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
