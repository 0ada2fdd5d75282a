package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/revolut-feed/service/auth"
	"github.com/brojonat/revolut-feed/service/config"
	"github.com/brojonat/revolut-feed/service/db"
	"github.com/brojonat/revolut-feed/service/metrics"
	natspkg "github.com/brojonat/revolut-feed/service/nats"
	"github.com/brojonat/revolut-feed/service/revolut"
	"github.com/brojonat/revolut-feed/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"reference_currency", cfg.ReferenceCurrency,
		"sandbox", cfg.Sandbox,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	store := db.NewStore(dbPool, metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize the Revolut API client. The worker cannot prompt, so the
	// token must come from a prior `revolut-feed auth login`.
	key, err := revolut.LoadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		logger.Error("failed to load private key", "error", err)
		os.Exit(1)
	}
	revolutClient := revolut.NewClient(revolut.Config{
		ClientID:   cfg.ClientID,
		PrivateKey: key,
		Issuer:     cfg.JWTIssuer,
		Sandbox:    cfg.Sandbox,
		Metrics:    metricsCollector,
		Logger:     logger,
	})
	session := auth.NewSession(revolutClient, auth.NewFileStore(cfg.TokenFile), nil, logger)
	revolutClient.UseTokenSource(session)

	if token, valid, err := session.Status(); err != nil || token == nil {
		logger.Warn("no stored access token, exports fail until `revolut-feed auth login` is run",
			"token_file", cfg.TokenFile,
			"error", err,
		)
	} else {
		logger.Info("loaded access token",
			"environment", revolutClient.Environment(),
			"valid", valid,
			"refreshable", token.RefreshToken != "",
		)
	}

	// Initialize NATS publisher. Runs are still stored when NATS is down.
	var publisher temporal.PublisherInterface
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, metricsCollector)
	if err != nil {
		logger.Warn("NATS unavailable, ledger events will not be published", "url", cfg.NATSURL, "error", err)
	} else {
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Initialize Temporal client for schedule management
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		metricsCollector,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	if err := temporalClient.UpsertExportSchedule(ctx, cfg.ReferenceCurrency, cfg.ExportInterval, cfg.ExportWindow); err != nil {
		logger.Error("failed to create export schedule", "error", err)
		os.Exit(1)
	}

	// Initialize Temporal worker
	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		TransactionCount:  cfg.TransactionCount,
		Store:             store,
		Revolut:           revolutClient,
		Publisher:         publisher,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"export_interval", cfg.ExportInterval,
		"export_window", cfg.ExportWindow,
		"publishing", publisher != nil,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
