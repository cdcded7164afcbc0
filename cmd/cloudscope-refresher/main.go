// Command cloudscope-refresher keeps inventory snapshots warm. It
// force-refreshes every active client on a schedule and prunes snapshots
// past the retention window, so interactive reads almost always hit cache.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/cloudscope/pkg/api"
	"github.com/platinummonkey/cloudscope/pkg/config"
	"github.com/platinummonkey/cloudscope/pkg/observability"
	"github.com/platinummonkey/cloudscope/pkg/storage/postgres"
	redisstore "github.com/platinummonkey/cloudscope/pkg/storage/redis"
)

func main() {
	runOnce := flag.Bool("run-once", false, "refresh all clients once and exit")
	schedule := flag.String("schedule", envOr("CLOUDSCOPE_REFRESH_SCHEDULE", "*/25 * * * *"),
		"cron schedule for inventory refresh")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	db, err := postgres.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := redisstore.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, continuing without it")
		redisClient = nil
	}

	components, err := api.BuildComponents(cfg, logger, db, redisClient)
	if err != nil {
		logger.WithError(err).Error("failed to build components")
		os.Exit(1)
	}

	refresh := func() {
		start := time.Now()
		refreshed, err := components.Inventory.RefreshAll(ctx)
		if err != nil {
			logger.WithError(err).Error("inventory refresh pass failed")
			return
		}

		pruned, err := components.Snapshots.Prune(ctx, time.Now().UTC().Add(-cfg.Inventory.Retention))
		if err != nil {
			logger.WithError(err).Warn("snapshot pruning failed")
		}

		logger.WithFields(map[string]interface{}{
			"clients_refreshed": refreshed,
			"snapshots_pruned":  pruned,
			"duration":          time.Since(start).String(),
		}).Info("inventory refresh pass complete")
	}

	if *runOnce {
		refresh()
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(*schedule, refresh); err != nil {
		logger.WithError(err).Errorf("invalid refresh schedule %q", *schedule)
		os.Exit(1)
	}

	logger.WithField("schedule", *schedule).Info("refresher started")
	scheduler.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("refresher stopping")
	<-scheduler.Stop().Done()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
