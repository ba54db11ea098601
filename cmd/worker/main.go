/**
 * @description
 * This is the main entry point for the induction-sync worker. It consumes induction
 * batches from RabbitMQ and pushes every employee to HikCentral.
 *
 * Key features:
 * - Loads configuration from environment variables or a .env file.
 * - Runs in one of three modes (WORKER_MODE): batch, fanout or person.
 * - Reconnects to RabbitMQ with exponential backoff when the connection drops.
 * - Optionally records per-employee outcomes in PostgreSQL (DATABASE_URL).
 * - Serves /metrics and /health on METRICS_ADDR.
 * - Implements graceful shutdown: the in-flight delivery finishes before exit.
 *
 * @dependencies
 * - github.com/cenkalti/backoff/v5: Reconnect delays.
 * - github.com/jackc/pgx/v5/pgxpool: For the optional outcome ledger.
 * - github.com/joho/godotenv: To load .env files for local development.
 * - go.uber.org/zap: Structured logging.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/api"
	"github.com/hcpvision/induction-sync/internal/app"
	"github.com/hcpvision/induction-sync/internal/config"
	"github.com/hcpvision/induction-sync/internal/observability"
	"github.com/hcpvision/induction-sync/internal/store"
	"github.com/hcpvision/induction-sync/pkg/hikvisionclient"
	"github.com/hcpvision/induction-sync/pkg/rabbitmq"
)

const maxReconnectDelay = 30 * time.Second

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "induction-sync-worker")
	if err != nil {
		log.Fatalf("cannot build logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsAddr, logger)

	var recorder app.OutcomeRecorder
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
		recorder = repo
		logger.Info("sync outcome ledger enabled")
	}

	queueName, handler, cleanup, err := buildHandler(cfg, recorder, logger)
	if err != nil {
		logger.Fatal("failed to set up worker", zap.Error(err))
	}
	defer cleanup()

	logger.Info("worker starting",
		zap.String("mode", cfg.WorkerMode),
		zap.String("queue", queueName),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("dead_letter_exchange", cfg.DeadLetterExchange),
	)

	consumeWithReconnect(ctx, cfg, queueName, handler, logger)

	logger.Info("shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
}

// buildHandler wires the handler for the configured mode and returns the queue it reads.
func buildHandler(cfg config.Config, recorder app.OutcomeRecorder, logger *zap.Logger) (string, rabbitmq.Handler, func(), error) {
	noop := func() {}

	if cfg.WorkerMode == config.ModeFanout {
		producer, err := rabbitmq.NewProducer(cfg.RabbitMQURL, rabbitmq.Options{
			Heartbeat:          cfg.RabbitMQHeartbeat,
			DeadLetterExchange: cfg.DeadLetterExchange,
		}, logger)
		if err != nil {
			return "", nil, noop, fmt.Errorf("failed to connect producer: %w", err)
		}
		if err := producer.DeclareQueue(cfg.CreatePersonQueue); err != nil {
			producer.Close()
			return "", nil, noop, err
		}
		h := app.NewSyncEventHandler(nil, producer, cfg.CreatePersonQueue, cfg.WorkerConcurrency, logger)
		return cfg.QueueName, h.HandleFanout, producer.Close, nil
	}

	mapping, err := app.ParseRegionalMapping(cfg.RegionalGroupMapping)
	if err != nil {
		return "", nil, noop, err
	}

	client, err := hikvisionclient.NewClient(hikvisionConfig(cfg), logger)
	if err != nil {
		return "", nil, noop, err
	}

	processor := app.NewEmployeeProcessor(client, mapping, recorder, logger)
	h := app.NewSyncEventHandler(processor, nil, cfg.CreatePersonQueue, cfg.WorkerConcurrency, logger)

	if cfg.WorkerMode == config.ModePerson {
		return cfg.CreatePersonQueue, h.HandleEmployee, noop, nil
	}
	return cfg.QueueName, h.HandleBatch, noop, nil
}

func hikvisionConfig(cfg config.Config) hikvisionclient.Config {
	return hikvisionclient.Config{
		BaseURL:            cfg.HikvisionBaseURL,
		AppKey:             cfg.HikvisionAppKey,
		AppSecret:          cfg.HikvisionAppSecret,
		InsecureSkipVerify: cfg.HikvisionTLSInsecure,
		CAFile:             cfg.HikvisionCAFile,
		RequestTimeout:     cfg.HikvisionRequestTimeout,
		PhotoTimeout:       cfg.PhotoDownloadTimeout,
		Retry: hikvisionclient.RetryPolicy{
			MaxRetries: cfg.HikvisionMaxRetries,
			BaseDelay:  cfg.HikvisionRetryBaseDelay,
			MaxDelay:   cfg.HikvisionRetryMaxDelay,
		},
		Person: hikvisionclient.PersonDefaults{
			OrgIndexCode: cfg.HikvisionOrgIndexCode,
			Remark:       cfg.HikvisionRemark,
			BeginTime:    cfg.HikvisionBeginTime,
			EndTime:      cfg.HikvisionEndTime,
			PhoneNumber:  cfg.DefaultPhoneNumber,
			Email:        cfg.DefaultEmail,
		},
	}
}

// consumeWithReconnect runs the consumer until ctx is cancelled, redialing with
// exponential backoff whenever the connection or channel is lost.
func consumeWithReconnect(ctx context.Context, cfg config.Config, queueName string, handler rabbitmq.Handler, logger *zap.Logger) {
	opts := rabbitmq.Options{
		Heartbeat:          cfg.RabbitMQHeartbeat,
		Prefetch:           1,
		DeadLetterExchange: cfg.DeadLetterExchange,
	}

	delay := backoff.NewExponentialBackOff()
	delay.MaxInterval = maxReconnectDelay

	for {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, opts, logger)
		if err == nil {
			delay.Reset()
			err = consumer.Consume(ctx, queueName, handler)
			consumer.Close()
		}
		if ctx.Err() != nil {
			return
		}

		wait := delay.NextBackOff()
		if errors.Is(err, rabbitmq.ErrDeliveriesClosed) {
			logger.Warn("rabbitmq delivery stream closed, reconnecting", zap.Duration("retry_in", wait))
		} else {
			logger.Error("rabbitmq consumer failed, reconnecting", zap.Error(err), zap.Duration("retry_in", wait))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func openDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	dbConfig.MaxConns = 4
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute
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

func startMetricsServer(addr string, logger *zap.Logger) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewMetricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
			os.Exit(1)
		}
	}()
	return server
}
