package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/sequence-engine/internal/config"
	"github.com/kursadbilgin/sequence-engine/internal/engine"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/service"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, logger, observability.NewMetrics(), engine.Options{Migrate: true})
	if err != nil {
		logger.Fatal("engine initialization failed", zap.Error(err))
	}
	defer eng.Close() //nolint:errcheck

	resetter, err := service.NewQuotaResetter(eng.Quota, eng.Locker, cfg.QuotaResetLocation(), logger)
	if err != nil {
		logger.Fatal("quota resetter initialization failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Runner.Start(gctx) })
	g.Go(func() error { return resetter.Start(gctx) })
	g.Go(func() error { return eng.Health.Start(gctx) })

	if cfg.StaleClaimTimeout > 0 {
		sweeper, err := service.NewStaleClaimSweeper(eng.Deliveries, cfg.StaleClaimTimeout, cfg.SchedulerInterval, 0, logger)
		if err != nil {
			logger.Fatal("stale claim sweeper initialization failed", zap.Error(err))
		}
		g.Go(func() error { return sweeper.Start(gctx) })
	}

	if cfg.DispatchMode == config.DispatchModeQueue {
		consumer, err := eng.Consumer(cfg.WorkerConcurrency)
		if err != nil {
			logger.Fatal("queue consumer initialization failed", zap.Error(err))
		}
		worker, err := service.NewWorkerService(
			eng.Contacts, eng.Senders, eng.Scheduler, eng.Selector, eng.Dispatcher,
			consumer, cfg.WorkerConcurrency, logger,
		)
		if err != nil {
			logger.Fatal("worker service initialization failed", zap.Error(err))
		}
		worker.SetMetrics(eng.Metrics)
		g.Go(func() error { return worker.Start(gctx) })
	}

	logger.Info("sequence-engine worker started",
		zap.String("dispatch_mode", cfg.DispatchMode),
		zap.Duration("scheduler_interval", cfg.SchedulerInterval),
		zap.Int("dispatch_concurrency", cfg.DispatchConcurrency),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sequence-engine worker stopped", zap.Error(err))
		return
	}
	logger.Info("sequence-engine worker stopped")
}
