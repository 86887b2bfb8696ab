package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ICE-CUBA/AgentGraph/internal/api"
	"github.com/ICE-CUBA/AgentGraph/internal/bus"
	"github.com/ICE-CUBA/AgentGraph/internal/config"
	"github.com/ICE-CUBA/AgentGraph/internal/registry"
	"github.com/ICE-CUBA/AgentGraph/internal/reputation"
	"github.com/ICE-CUBA/AgentGraph/internal/sharing"
	"github.com/ICE-CUBA/AgentGraph/internal/store"
	"github.com/ICE-CUBA/AgentGraph/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Event bus (optional)
	var busClient bus.Client
	if cfg.NATS.URL != "" {
		bc, err := bus.NewNATSClient(ctx, cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to event bus, running without events", "error", err)
		} else {
			busClient = bc
			defer bc.Close()
			logger.Info("connected to event bus")
		}
	}

	// Core services
	directory := registry.NewDirectory(db, logger, cfg.HeartbeatTimeout())
	hub := sharing.NewHub(cfg.Hub.HistorySize, logger)
	tracker := reputation.NewTracker(db, logger, cfg.ReputationWindow(), cfg.Reputation.MinLeaderboardTasks)

	// Bus bookkeeping: inbound heartbeats and task lifecycle, outbound
	// conflict advisories.
	bridge := bus.NewBridge(busClient, directory, tracker, hub, logger)
	bridge.SetupSubscriptions()
	bridge.MirrorConflicts()

	// Stale-agent sweeper
	janitor := registry.NewJanitor(directory, cfg.CleanupInterval(), logger)
	janitor.Start(ctx)
	defer janitor.Stop()
	logger.Info("registry janitor started", "interval", cfg.CleanupInterval())

	// Webhook deliveries
	hooks := webhook.NewClient()

	// API server
	router := api.NewRouter(db, directory, hub, tracker, busClient, hooks, cfg, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsRouter := api.NewMetricsRouter()
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsRouter,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	hub.Flush()

	logger.Info("shutdown complete")
}

// newLogger builds the process logger from the logging config. Unknown
// levels and formats fall back to info and JSON.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
