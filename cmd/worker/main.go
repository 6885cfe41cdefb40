package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/onboard-engine/internal/config"
	"github.com/kursadbilgin/onboard-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/onboard-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/onboard-engine/internal/infra/redis"
	"github.com/kursadbilgin/onboard-engine/internal/observability"
	"github.com/kursadbilgin/onboard-engine/internal/onboarder"
	"github.com/kursadbilgin/onboard-engine/internal/queue"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"github.com/kursadbilgin/onboard-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	defer consumer.Close()
	publisher := queue.NewRabbitMQPublisher(rabbit)

	guard, err := infraredis.NewRedisKeyGuard(rdb, 0)
	if err != nil {
		logger.Fatal("key guard initialization failed", zap.Error(err))
	}

	var onboardAction onboarder.Onboarder
	if cfg.OnboardWebhookURL != "" {
		onboardAction, err = onboarder.NewWebhookOnboarder(cfg.OnboardWebhookURL)
		if err != nil {
			logger.Fatal("webhook onboarder initialization failed", zap.Error(err))
		}
	} else {
		onboardAction = onboarder.NewNoopOnboarder()
	}

	organizations := repository.NewGormOrganizationRepo(db)
	uow := repository.NewGormUnitOfWork(db)

	worker, err := service.NewWorkerService(
		organizations,
		uow,
		consumer,
		onboardAction,
		guard,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}
	worker.SetMetrics(observability.NewMetrics())

	scanner, err := service.NewRetryScanner(organizations, publisher, 0, 0, logger)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error { return scanner.Start(groupCtx) })

	logger.Info("onboard-engine worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	if err := g.Wait(); err != nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}

	logger.Info("onboard-engine worker stopped")
}
