package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepLimit    = 100
)

// StaleClaimSweeper fails claims left behind by a process that died between
// claim and settlement, so the contact becomes due again. Such a claim may
// have been sent already; the sweep trades that risk for progress and is
// only enabled when a timeout is configured.
type StaleClaimSweeper struct {
	deliveries repository.DeliveryRepository
	logger     *zap.Logger
	timeout    time.Duration
	interval   time.Duration
	limit      int
	now        func() time.Time
}

func NewStaleClaimSweeper(
	deliveries repository.DeliveryRepository,
	timeout time.Duration,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*StaleClaimSweeper, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("stale claim timeout must be positive")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StaleClaimSweeper{
		deliveries: deliveries,
		logger:     logger,
		timeout:    timeout,
		interval:   interval,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *StaleClaimSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("stale claim sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("stale claim sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *StaleClaimSweeper) sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.timeout)
	failed, err := s.deliveries.FailStaleClaims(ctx, cutoff, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fail stale claims: %w", err)
	}
	if failed > 0 {
		s.logger.Warn("abandoned claims released",
			zap.Int64("count", failed),
			zap.Time("claimedBefore", cutoff),
		)
	}
	return nil
}
