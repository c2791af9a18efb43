// Package engine wires the sequence engine's stores, services and transports
// from configuration. The API, the worker and enginectl share it.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kursadbilgin/sequence-engine/internal/config"
	"github.com/kursadbilgin/sequence-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/sequence-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/sequence-engine/internal/infra/redis"
	"github.com/kursadbilgin/sequence-engine/internal/observability"
	"github.com/kursadbilgin/sequence-engine/internal/provider"
	"github.com/kursadbilgin/sequence-engine/internal/queue"
	"github.com/kursadbilgin/sequence-engine/internal/quota"
	"github.com/kursadbilgin/sequence-engine/internal/ratelimit"
	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"github.com/kursadbilgin/sequence-engine/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Options struct {
	// Migrate applies pending migrations before anything else runs.
	Migrate bool
	// ConnectQueue dials RabbitMQ even in inline mode.
	ConnectQueue bool
}

type Engine struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	DB       *gorm.DB
	SQLDB    *sql.DB
	Redis    *goredis.Client
	RabbitMQ *queue.RabbitMQ

	Campaigns  *repository.GormCampaignRepo
	Sequences  *repository.GormSequenceRepo
	Contacts   *repository.GormContactRepo
	Senders    *repository.GormSenderRepo
	Deliveries *repository.GormDeliveryRepo

	Locker     *infraredis.Locker
	Quota      *quota.Manager
	Scheduler  *service.DueScheduler
	Selector   *service.SenderSelector
	Dispatcher *service.Dispatcher
	Runner     *service.CampaignRunner
	Health     *service.HealthRecomputer
	Tracking   *service.TrackingService
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{Config: cfg, Logger: logger, Metrics: metrics}
	if err := e.build(ctx, opts); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(ctx context.Context, opts Options) error {
	cfg := e.Config

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	e.DB = db

	if e.SQLDB, err = db.DB(); err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	if opts.Migrate {
		if err := migrations.Migrate(db); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
	}

	if e.Redis, err = infraredis.NewRedis(ctx, cfg.RedisURL); err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	if e.Locker, err = infraredis.NewLocker(e.Redis); err != nil {
		return err
	}

	var limiter ratelimit.RateLimiter
	if cfg.SendRatePerSec > 0 {
		if limiter, err = infraredis.NewRedisRateLimiter(e.Redis, cfg.SendRatePerSec); err != nil {
			return err
		}
	}

	if cfg.DispatchMode == config.DispatchModeQueue || opts.ConnectQueue {
		if e.RabbitMQ, err = queue.NewRabbitMQ(ctx, cfg.RabbitMQURL); err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
	}

	mailer, err := provider.New(ctx, cfg, e.Logger)
	if err != nil {
		return fmt.Errorf("mail provider initialization failed: %w", err)
	}

	e.Campaigns = repository.NewGormCampaignRepo(db)
	e.Sequences = repository.NewGormSequenceRepo(db)
	e.Contacts = repository.NewGormContactRepo(db)
	e.Senders = repository.NewGormSenderRepo(db)
	e.Deliveries = repository.NewGormDeliveryRepo(db)

	if e.Quota, err = quota.NewManager(e.Senders, e.Logger); err != nil {
		return err
	}
	e.Quota.SetMetrics(e.Metrics)

	if e.Scheduler, err = service.NewDueScheduler(e.Sequences, e.Contacts, e.Logger); err != nil {
		return err
	}
	e.Scheduler.SetMetrics(e.Metrics)

	e.Selector = service.NewSenderSelector(cfg.SenderMinHealthScore)

	if e.Dispatcher, err = service.NewDispatcher(e.Deliveries, e.Contacts, e.Quota, mailer, limiter, cfg.SendTimeout, e.Logger); err != nil {
		return err
	}
	e.Dispatcher.SetMetrics(e.Metrics)
	e.Dispatcher.SetQuotaResetZone(cfg.QuotaResetLocation())

	e.Runner, err = service.NewCampaignRunner(
		e.Campaigns, e.Senders, e.Scheduler, e.Selector, e.Dispatcher,
		cfg.DispatchConcurrency, cfg.SchedulerInterval, e.Logger,
	)
	if err != nil {
		return err
	}
	e.Runner.SetMetrics(e.Metrics)
	e.Runner.SetLocker(e.Locker)
	if cfg.DispatchMode == config.DispatchModeQueue {
		e.Runner.SetPublisher(queue.NewRabbitMQPublisher(e.RabbitMQ))
	}

	weights := service.HealthWeights{
		Delivery: cfg.HealthWeightDelivery,
		Open:     cfg.HealthWeightOpen,
		Bounce:   cfg.HealthWeightBounce,
	}
	e.Health, err = service.NewHealthRecomputer(
		e.Campaigns, e.Senders, e.Deliveries, weights,
		cfg.HealthWindowDays, cfg.HealthInterval, e.Logger,
	)
	if err != nil {
		return err
	}
	e.Health.SetMetrics(e.Metrics)

	if e.Tracking, err = service.NewTrackingService(e.Deliveries, e.Dispatcher, e.Logger); err != nil {
		return err
	}
	e.Tracking.SetMetrics(e.Metrics)

	return nil
}

// Consumer returns a dispatch queue consumer, or an error when the engine
// was built without RabbitMQ.
func (e *Engine) Consumer(prefetch int) (queue.Consumer, error) {
	if e.RabbitMQ == nil {
		return nil, fmt.Errorf("rabbitmq is not configured")
	}
	return queue.NewRabbitMQConsumer(e.RabbitMQ, prefetch, e.Logger), nil
}

func (e *Engine) Close() error {
	var errs []error
	if e.RabbitMQ != nil {
		errs = append(errs, e.RabbitMQ.Close())
	}
	if e.Redis != nil {
		errs = append(errs, e.Redis.Close())
	}
	if e.SQLDB != nil {
		errs = append(errs, e.SQLDB.Close())
	}
	return errors.Join(errs...)
}
