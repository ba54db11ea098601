/**
 * @description
 * This is the main entry point for the induction-sync ingest API. It pulls inducted
 * employees from the EPOSH API and queues each page as a sync batch for the worker.
 *
 * Key features:
 * - Loads application configuration from environment variables.
 * - Initializes a RabbitMQ producer for the batch queue.
 * - Exposes POST /eposh-induction (and /kib when HikCentral is configured) behind an
 *   optional JWT guard.
 * - Optionally runs a daily ingestion job (INGEST_SCHEDULE).
 * - Implements graceful shutdown to ensure clean resource cleanup on termination.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: HTTP routing.
 * - github.com/jackc/pgx/v5/pgxpool: For the optional outcome lookup endpoint.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Optional cross-replica lock for scheduled runs.
 * - go.uber.org/zap: Structured logging.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/api"
	"github.com/hcpvision/induction-sync/internal/app"
	"github.com/hcpvision/induction-sync/internal/config"
	"github.com/hcpvision/induction-sync/internal/observability"
	"github.com/hcpvision/induction-sync/internal/store"
	"github.com/hcpvision/induction-sync/pkg/eposhclient"
	"github.com/hcpvision/induction-sync/pkg/hikvisionclient"
	"github.com/hcpvision/induction-sync/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "induction-sync-ingest")
	if err != nil {
		log.Fatalf("cannot build logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateIngest(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	producer, err := rabbitmq.NewProducer(cfg.RabbitMQURL, rabbitmq.Options{
		Heartbeat:          cfg.RabbitMQHeartbeat,
		DeadLetterExchange: cfg.DeadLetterExchange,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer producer.Close()
	if err := producer.DeclareQueue(cfg.QueueName); err != nil {
		logger.Fatal("failed to declare queue", zap.String("queue", cfg.QueueName), zap.Error(err))
	}
	logger.Info("RabbitMQ producer connected", zap.String("queue", cfg.QueueName))

	source := eposhclient.NewClient(cfg.EposhBaseURL, cfg.EposhAPIKey, cfg.EposhAppID, cfg.EposhPageLimit)
	ingestService := app.NewIngestService(source, producer, cfg.QueueName, logger)

	var kib api.KIBUpdater
	if cfg.HikvisionConfigured() {
		client, err := hikvisionclient.NewClient(hikvisionclient.Config{
			BaseURL:            cfg.HikvisionBaseURL,
			AppKey:             cfg.HikvisionAppKey,
			AppSecret:          cfg.HikvisionAppSecret,
			InsecureSkipVerify: cfg.HikvisionTLSInsecure,
			CAFile:             cfg.HikvisionCAFile,
			RequestTimeout:     cfg.HikvisionRequestTimeout,
			Retry: hikvisionclient.RetryPolicy{
				MaxRetries: cfg.HikvisionMaxRetries,
				BaseDelay:  cfg.HikvisionRetryBaseDelay,
				MaxDelay:   cfg.HikvisionRetryMaxDelay,
			},
		}, logger)
		if err != nil {
			logger.Fatal("failed to build HikCentral client", zap.Error(err))
		}
		kib = client
	} else {
		logger.Info("HikCentral not configured; /kib disabled")
	}

	var outcomes api.OutcomeReader
	if cfg.DatabaseURL != "" {
		dbpool, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("unable to connect to database", zap.Error(err))
		}
		defer dbpool.Close()

		repo := store.NewPostgresSyncOutcomeRepository(dbpool)
		if err := repo.EnsureSyncOutcomeTable(ctx); err != nil {
			logger.Fatal("failed ensuring sync_outcomes table", zap.Error(err))
		}
		outcomes = repo
	}

	var scheduler *app.Scheduler
	if cfg.IngestSchedule != "" {
		scheduler = app.NewScheduler(ingestService, cfg.IngestSchedule, logger)
		if redisClient := connectRedis(ctx, cfg.RedisURL, logger); redisClient != nil {
			defer redisClient.Close()
			scheduler.WithLock(app.NewRedisIngestLock(redisClient, cfg.RedisKeyPrefix, cfg.IngestLockTTL))
		}
		if err := scheduler.Start(); err != nil {
			logger.Fatal("failed to start scheduler", zap.Error(err))
		}
	}

	handler := api.NewHandler(ingestService, kib, outcomes, logger)
	router := api.NewRouter(handler, cfg.IngestJWTSecret, cfg.AllowedOrigins())
	if cfg.IngestJWTSecret == "" {
		logger.Warn("INGEST_JWT_SECRET not set; ingest endpoints are unauthenticated")
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduled ingestion still running at shutdown")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
		return
	}
	logger.Info("server gracefully stopped")
}

func openDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	dbConfig.MaxConns = 2
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// connectRedis returns nil when REDIS_URL is unset or unreachable; scheduled runs are
// then unguarded.
func connectRedis(ctx context.Context, redisURL string, logger *zap.Logger) *redis.Client {
	if redisURL == "" {
		logger.Info("redis url missing; scheduled ingestion lock disabled")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; scheduled ingestion lock disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; scheduled ingestion lock disabled", zap.Error(err))
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
