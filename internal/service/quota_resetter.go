package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// quotaResetLockTTL outlives the day so a replica starting late cannot reset
// the same day twice.
const (
	quotaResetLockTTL    = 25 * time.Hour
	quotaResetRetryDelay = time.Minute
)

// QuotaResetStore is the reset side of the warm-up quota manager.
type QuotaResetStore interface {
	ResetAllCampaigns(ctx context.Context) (int64, error)
}

// QuotaResetter zeroes every sender's warm-up counter at midnight in the
// configured time zone. With a locker it resets once per day across all
// worker replicas.
type QuotaResetter struct {
	quota    QuotaResetStore
	locker   Locker
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
	after    func(d time.Duration) <-chan time.Time
}

func NewQuotaResetter(quota QuotaResetStore, locker Locker, location *time.Location, logger *zap.Logger) (*QuotaResetter, error) {
	if quota == nil {
		return nil, fmt.Errorf("quota store is required")
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QuotaResetter{
		quota:    quota,
		locker:   locker,
		location: location,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}, nil
}

// NextReset returns the first midnight in loc strictly after now.
func NextReset(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

func (r *QuotaResetter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		now := r.now()
		next := NextReset(now, r.location)
		r.logger.Info("next quota reset scheduled", zap.Time("at", next))

		select {
		case <-ctx.Done():
			return nil
		case <-r.after(next.Sub(now)):
		}

		for {
			_, err := r.ResetFor(ctx, next)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("quota reset failed, retrying", zap.Error(err))

			select {
			case <-ctx.Done():
				return nil
			case <-r.after(quotaResetRetryDelay):
			}
		}
	}
}

// ResetFor runs the reset for the day starting at boundary. It reports false
// when another process already ran it.
func (r *QuotaResetter) ResetFor(ctx context.Context, boundary time.Time) (bool, error) {
	day := boundary.In(r.location).Format("2006-01-02")

	var release func(context.Context) error
	if r.locker != nil {
		// Kept after success: the key marks the day as done until it expires.
		var ok bool
		var err error
		release, ok, err = r.locker.TryAcquire(ctx, "quota-reset:"+day, quotaResetLockTTL)
		if err != nil {
			return false, fmt.Errorf("failed to acquire quota reset lock: %w", err)
		}
		if !ok {
			r.logger.Debug("quota reset already done", zap.String("day", day))
			return false, nil
		}
	}

	n, err := r.quota.ResetAllCampaigns(ctx)
	if err != nil {
		if release != nil {
			if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
				r.logger.Warn("failed to release quota reset lock", zap.Error(releaseErr))
			}
		}
		return false, err
	}

	r.logger.Info("daily quota reset", zap.String("day", day), zap.Int64("senders", n))
	return true, nil
}
