package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/94nj111/library-service/internal/notifier"
	"github.com/94nj111/library-service/pkg/config"
	"github.com/94nj111/library-service/pkg/db"
	"github.com/94nj111/library-service/pkg/logger"
	"github.com/94nj111/library-service/pkg/migrate"
	"github.com/94nj111/library-service/pkg/outbox"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "notifier"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "notifier"

	logg = logger.New(logger.Options{
		ServiceName: "notifier",
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

	sender, err := notifier.NewTelegramSender(cfg.Telegram, cfg.Notifier.SendTimeout)
	if err != nil {
		logg.Error(context.Background(), "failed to create telegram sender", err)
		os.Exit(1)
	}

	service, err := notifier.NewService(notifier.ServiceParams{
		Logger: logg,
		Outbox: outbox.NewRepository(dbClient.DB()),
		Sender: sender,
		Config: cfg.Notifier,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting notifier")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "notifier stopped unexpectedly", err)
		os.Exit(1)
	}
}
