package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/94nj111/library-service/api/controllers"
	"github.com/94nj111/library-service/api/routes"
	"github.com/94nj111/library-service/internal/books"
	"github.com/94nj111/library-service/internal/borrowings"
	"github.com/94nj111/library-service/internal/payments"
	"github.com/94nj111/library-service/pkg/config"
	"github.com/94nj111/library-service/pkg/db"
	"github.com/94nj111/library-service/pkg/logger"
	"github.com/94nj111/library-service/pkg/migrate"
	"github.com/94nj111/library-service/pkg/outbox"
	"github.com/94nj111/library-service/pkg/redis"
	pkgstripe "github.com/94nj111/library-service/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	bookService, err := books.NewService(books.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create book service", err)
		os.Exit(1)
	}

	paymentRepo := payments.NewRepository(dbClient.DB())

	borrowingService, err := borrowings.NewService(
		borrowings.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		borrowings.NewInventoryGuard(),
		paymentRepo,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create borrowing service", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:       paymentRepo,
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

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, readiness, bookService, borrowingService, paymentService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
