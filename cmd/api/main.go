package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/certpipe/certpipe/internal/artifact"
	"github.com/certpipe/certpipe/internal/config"
	"github.com/certpipe/certpipe/internal/handler"
	"github.com/certpipe/certpipe/internal/infra/postgresql"
	"github.com/certpipe/certpipe/internal/infra/postgresql/migrations"
	infraredis "github.com/certpipe/certpipe/internal/infra/redis"
	"github.com/certpipe/certpipe/internal/observability"
	"github.com/certpipe/certpipe/internal/queue"
	"github.com/certpipe/certpipe/internal/repository"
	"github.com/certpipe/certpipe/internal/service"
	"github.com/certpipe/certpipe/internal/transport"
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

	metrics := observability.NewMetrics()

	batches := repository.NewGormBatchRepo(db)
	templates := repository.NewGormTemplateRepo(db)
	certificates := repository.NewGormCertificateRepo(db)
	failures := repository.NewGormFailureRepo(db)
	suppressions := repository.NewGormSuppressionRepo(db)
	accounts := repository.NewGormAccountRepo(db)
	schedules := repository.NewGormScheduleRepo(db)

	orchestrator, err := service.NewOrchestrator(batches, templates, publisher, cfg.ChunkSize, logger)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	resender, err := service.NewResendService(batches, certificates, failures, orchestrator, logger)
	if err != nil {
		logger.Fatal("resend service initialization failed", zap.Error(err))
	}

	progress, err := service.NewProgressService(
		batches, certificates, failures,
		time.Duration(cfg.ProgressPollSec)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("progress service initialization failed", zap.Error(err))
	}

	scheduleService, err := service.NewScheduleService(
		schedules, templates, accounts, artifact.NewHTTPFetcher(), logger,
	)
	if err != nil {
		logger.Fatal("schedule service initialization failed", zap.Error(err))
	}

	limits := service.EmailLimits{
		ProviderPerSecond: cfg.ProviderRatePerSec,
		ProviderPerDay:    cfg.ProviderRatePerDay,
		UserPerSecond:     cfg.UserRatePerSec,
		UserPerDay:        cfg.UserRatePerDay,
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
		BodyLimit:    32 * 1024 * 1024,
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterBatchRoutes(app, orchestrator, resender, progress, batches); err != nil {
		logger.Fatal("batch route registration failed", zap.Error(err))
	}
	if err := handler.RegisterScheduleRoutes(app, scheduleService); err != nil {
		logger.Fatal("schedule route registration failed", zap.Error(err))
	}
	if err := handler.RegisterTemplateRoutes(app, templates); err != nil {
		logger.Fatal("template route registration failed", zap.Error(err))
	}
	if err := handler.RegisterCertificateRoutes(app, certificates); err != nil {
		logger.Fatal("certificate route registration failed", zap.Error(err))
	}
	if err := handler.RegisterSuppressionRoutes(app, suppressions); err != nil {
		logger.Fatal("suppression route registration failed", zap.Error(err))
	}
	if err := handler.RegisterLimitsRoutes(app, limiter, accounts, limits); err != nil {
		logger.Fatal("limits route registration failed", zap.Error(err))
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("certpipe api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Error("api server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
}
