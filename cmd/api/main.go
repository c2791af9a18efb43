package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/sequence-engine/internal/config"
	"github.com/kursadbilgin/sequence-engine/internal/engine"
	"github.com/kursadbilgin/sequence-engine/internal/handler"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/transport"
	"go.uber.org/zap"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	eng, err := engine.New(ctx, cfg, logger, metrics, engine.Options{Migrate: true})
	if err != nil {
		logger.Fatal("engine initialization failed", zap.Error(err))
	}
	defer eng.Close() //nolint:errcheck

	app := fiber.New(fiber.Config{
		AppName:               "sequence-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	checks := []handler.ReadinessCheck{
		handler.PostgresCheck(eng.SQLDB),
		handler.RedisCheck(eng.Redis),
	}
	if eng.RabbitMQ != nil {
		checks = append(checks, handler.BrokerCheck(eng.RabbitMQ))
	}
	handler.RegisterHealthRoutes(app, checks...)

	campaigns, err := handler.NewCampaignHandler(eng.Runner, eng.Scheduler, eng.Quota, eng.Health)
	if err != nil {
		logger.Fatal("campaign handler initialization failed", zap.Error(err))
	}
	if err := handler.RegisterCampaignRoutes(app, campaigns); err != nil {
		logger.Fatal("campaign routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterTrackingRoutes(app, eng.Tracking); err != nil {
		logger.Fatal("tracking routes registration failed", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	logger.Info("sequence-engine api started",
		zap.Int("port", cfg.APIPort),
		zap.String("dispatch_mode", cfg.DispatchMode),
		zap.String("mail_provider", cfg.MailProvider),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}

	logger.Info("sequence-engine api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
}
