package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/certpipe/certpipe/internal/artifact"
	"github.com/certpipe/certpipe/internal/config"
	"github.com/certpipe/certpipe/internal/infra/postgresql"
	"github.com/certpipe/certpipe/internal/infra/postgresql/migrations"
	infraredis "github.com/certpipe/certpipe/internal/infra/redis"
	"github.com/certpipe/certpipe/internal/mailer"
	"github.com/certpipe/certpipe/internal/observability"
	"github.com/certpipe/certpipe/internal/queue"
	"github.com/certpipe/certpipe/internal/repository"
	"github.com/certpipe/certpipe/internal/service"
	"github.com/certpipe/certpipe/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	// Idempotent; the worker may boot before the api.
	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRateLimiter(rdb, logger)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	chunkConsumer := queue.NewRabbitMQConsumer(broker, cfg.ChunkConcurrency, logger)
	emailConsumer := queue.NewRabbitMQConsumer(broker, cfg.EmailConcurrency, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewGCS(ctx, cfg.StorageBucket)
	if err != nil {
		logger.Fatal("storage initialization failed", zap.Error(err))
	}

	renderer, err := artifact.NewImageRenderer(artifact.NewHTTPFetcher(), logger)
	if err != nil {
		logger.Fatal("renderer initialization failed", zap.Error(err))
	}

	transport, err := mailer.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, logger)
	if err != nil {
		logger.Fatal("smtp transport initialization failed", zap.Error(err))
	}
	composer := mailer.NewComposer(cfg.BaseURL)

	metrics := observability.NewMetrics()

	batches := repository.NewGormBatchRepo(db)
	templates := repository.NewGormTemplateRepo(db)
	certificates := repository.NewGormCertificateRepo(db)
	failures := repository.NewGormFailureRepo(db)
	suppressions := repository.NewGormSuppressionRepo(db)
	accounts := repository.NewGormAccountRepo(db)
	schedules := repository.NewGormScheduleRepo(db)

	certificateWorker, err := service.NewCertificateWorker(
		chunkConsumer, publisher,
		templates, certificates, failures, batches,
		renderer, store,
		cfg.BaseURL,
		cfg.RecordConcurrency, cfg.ChunkConcurrency, cfg.ChunkMaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("certificate worker initialization failed", zap.Error(err))
	}
	certificateWorker.SetMetrics(metrics)

	limits := service.EmailLimits{
		ProviderPerSecond: cfg.ProviderRatePerSec,
		ProviderPerDay:    cfg.ProviderRatePerDay,
		UserPerSecond:     cfg.UserRatePerSec,
		UserPerDay:        cfg.UserRatePerDay,
	}

	emailWorker, err := service.NewEmailWorker(
		emailConsumer, publisher,
		accounts, suppressions, failures,
		limiter, composer, transport,
		limits,
		cfg.EmailFrom, cfg.SupportEmail,
		cfg.EmailConcurrency, cfg.EmailMaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("email worker initialization failed", zap.Error(err))
	}
	emailWorker.SetMetrics(metrics)

	orchestrator, err := service.NewOrchestrator(batches, templates, publisher, cfg.ChunkSize, logger)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	runner, err := service.NewScheduleRunner(
		schedules, orchestrator, artifact.NewHTTPFetcher(),
		time.Duration(cfg.SchedulerIntervalSec)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("certpipe worker started",
		zap.Int("chunkConcurrency", cfg.ChunkConcurrency),
		zap.Int("recordConcurrency", cfg.RecordConcurrency),
		zap.Int("emailConcurrency", cfg.EmailConcurrency),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return certificateWorker.Start(groupCtx) })
	g.Go(func() error { return emailWorker.Start(groupCtx) })
	g.Go(func() error { return runner.Start(groupCtx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("worker group stopped with error", zap.Error(err))
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
}
