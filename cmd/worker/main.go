package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	appconfig "github.com/thaddiusatme/feed-processing-system-sub001/internal/config"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/infra/adapter/persistence/sqlite"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/infra/db"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/infra/fetcher"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/infra/webhook"
	workerPkg "github.com/thaddiusatme/feed-processing-system-sub001/internal/infra/worker"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/observability/logging"
	"github.com/thaddiusatme/feed-processing-system-sub001/internal/usecase/ingest"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	cfg, err := appconfig.Load(configPath())
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Load worker configuration (fail-open strategy)
	workerMetrics := workerPkg.NewWorkerMetrics()
	workerMetrics.MustRegister()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.String("cron_schedule", workerConfig.CronSchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Duration("ingest_timeout", workerConfig.IngestTimeout),
		slog.Int("health_port", workerConfig.HealthPort),
		slog.Int("metrics_port", workerConfig.MetricsPort))

	pool := initDatabase(logger, cfg.Database)
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Error("failed to close connection pool", slog.Any("error", err))
		}
	}()

	svc, err := setupIngestService(logger, pool, cfg)
	if err != nil {
		logger.Error("failed to set up ingest service", slog.Any("error", err))
		os.Exit(1)
	}

	// Context canceled on SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startMetricsServer(ctx, logger, workerConfig.MetricsPort)

	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	runCronWorker(ctx, logger, svc, workerConfig, workerMetrics, healthServer)
}

// configPath returns the config file path, overridable via CONFIG_PATH.
func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yaml"
}

// initDatabase opens the SQLite database, applies migrations, and builds the
// bounded connection pool every repository call goes through.
func initDatabase(logger *slog.Logger, cfg appconfig.DatabaseConfig) *db.Pool {
	poolCfg := db.PoolConfig{
		MinConnections: cfg.MinConnections,
		MaxConnections: cfg.MaxConnections,
		AcquireTimeout: cfg.AcquireTimeout,
	}

	database, err := db.Open(cfg.Path, poolCfg)
	if err != nil {
		logger.Error("failed to open database", slog.String("path", cfg.Path), slog.Any("error", err))
		os.Exit(1)
	}

	if err := db.MigrateUp(database); err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.NewPool(database, poolCfg)
	if err != nil {
		logger.Error("failed to create connection pool", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("database ready",
		slog.String("path", cfg.Path),
		slog.Int("min_connections", cfg.MinConnections),
		slog.Int("max_connections", cfg.MaxConnections))
	return pool
}

// setupIngestService wires the repository, the RSS fetcher, and the webhook
// dispatcher into the pipeline service.
func setupIngestService(logger *slog.Logger, pool *db.Pool, cfg *appconfig.Config) (*ingest.Service, error) {
	repo := sqlite.NewFeedRepo(pool)

	webhookCfg, err := webhook.NewConfig(
		cfg.Webhook.Endpoint,
		cfg.Webhook.AuthToken,
		cfg.Webhook.MaxRetries,
		webhook.WithRetryDelay(cfg.Webhook.RetryDelay),
		webhook.WithTimeout(cfg.Webhook.Timeout),
		webhook.WithBatchSize(cfg.Webhook.BatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("webhook config: %w", err)
	}
	dispatcher := webhook.NewDispatcher(webhookCfg, cfg.Webhook.MinInterval)

	feedFetcher := fetcher.NewRSSFetcher(createHTTPClient())

	logger.Info("ingest pipeline initialized",
		slog.Int("sources", len(cfg.Ingest.Sources)),
		slog.Int("fetch_parallelism", cfg.Ingest.FetchParallelism),
		slog.String("webhook_endpoint", cfg.Webhook.Endpoint))

	return ingest.NewService(repo, feedFetcher, dispatcher, ingest.Config{
		Sources:          cfg.Ingest.Sources,
		FetchParallelism: cfg.Ingest.FetchParallelism,
		QueueCapacity:    cfg.Ingest.QueueCapacity,
	}), nil
}

// createHTTPClient creates an HTTP client with timeouts and connection pooling.
// TLS 1.2+ is enforced for security.
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12, // Enforce TLS 1.2+
			},
		},
	}
}

// runCronWorker starts the cron scheduler, runs the ingest job periodically,
// and blocks until the shutdown signal fires.
func runCronWorker(ctx context.Context, logger *slog.Logger, svc *ingest.Service, cfg *workerPkg.WorkerConfig, metrics *workerPkg.WorkerMetrics, healthServer *workerPkg.HealthServer) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.CronSchedule, func() {
		runIngestJob(ctx, logger, svc, cfg, metrics)
	})
	if err != nil {
		logger.Error("failed to add cron job", slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()

	// Mark as ready after cron is set up
	healthServer.SetReady(true)
	logger.Info("worker started", slog.String("schedule", cfg.CronSchedule), slog.String("timezone", cfg.Timezone))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	healthServer.SetReady(false)

	// Stop scheduling new jobs, then wait for in-flight runs to finish.
	cronCtx := c.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(cfg.IngestTimeout):
		logger.Warn("cron jobs did not finish before timeout")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(drainCtx); err != nil {
		logger.Error("ingest service shutdown incomplete", slog.Any("error", err))
	} else {
		logger.Info("worker stopped")
	}
}

// runIngestJob executes a single pipeline run with timeout and error handling.
func runIngestJob(ctx context.Context, logger *slog.Logger, svc *ingest.Service, cfg *workerPkg.WorkerConfig, metrics *workerPkg.WorkerMetrics) {
	startTime := time.Now()
	metrics.RecordJobRun("started")
	logger.Info("ingest run started")

	runCtx, cancel := context.WithTimeout(ctx, cfg.IngestTimeout)
	defer cancel()

	stats, err := svc.RunOnce(runCtx)
	if err != nil {
		logger.Error("ingest run failed", slog.Any("error", err))
		metrics.RecordJobRun("failure")
		metrics.RecordJobDuration(time.Since(startTime).Seconds())
		return
	}

	metrics.RecordJobRun("success")
	metrics.RecordJobDuration(time.Since(startTime).Seconds())
	metrics.RecordFeedsProcessed(int(stats.Stored))
	metrics.RecordLastSuccess()

	logger.Info("ingest run completed",
		slog.Int("sources", stats.Sources),
		slog.Int64("fetched", stats.Fetched),
		slog.Int64("stored", stats.Stored),
		slog.Int64("store_failed", stats.StoreFailed),
		slog.Int64("delivered", stats.Delivered),
		slog.Int64("delivery_failed", stats.DeliveryFailed),
		slog.Int64("dropped", stats.Dropped),
		slog.Duration("duration", stats.Duration),
	)
}
