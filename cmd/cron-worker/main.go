package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/94nj111/library-service/internal/borrowings"
	"github.com/94nj111/library-service/internal/cron"
	"github.com/94nj111/library-service/internal/payments"
	"github.com/94nj111/library-service/pkg/config"
	"github.com/94nj111/library-service/pkg/db"
	"github.com/94nj111/library-service/pkg/logger"
	"github.com/94nj111/library-service/pkg/metrics"
	"github.com/94nj111/library-service/pkg/migrate"
	"github.com/94nj111/library-service/pkg/outbox"
	"github.com/94nj111/library-service/pkg/redis"
	pkgstripe "github.com/94nj111/library-service/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	provider, err := payments.NewStripeProvider(stripeClient, cfg.Stripe)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout provider", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:       payments.NewRepository(dbClient.DB()),
		Borrowings: borrowings.NewRepository(dbClient.DB()),
		Tx:         dbClient,
		Outbox:     outboxService,
		Provider:   provider,
		Inventory:  borrowings.NewInventoryGuard(),
		Logger:     logg,
		Config:     cfg.Payments,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewPaymentExpiryJob(cron.PaymentExpiryJobParams{
		Logger:   logg,
		DB:       dbClient,
		Pending:  payments.NewRepository(dbClient.DB()),
		Provider: provider,
		Settler:  paymentService,
		Timeout:  cfg.Payments.ProviderTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment expiry job", err)
		os.Exit(1)
	}

	overdueJob, err := cron.NewOverdueNoticeJob(cron.OverdueNoticeJobParams{
		Logger:  logg,
		DB:      dbClient,
		Overdue: borrowings.NewRepository(dbClient.DB()),
		Outbox:  outboxService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create overdue notice job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redis.LockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob, overdueJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}
