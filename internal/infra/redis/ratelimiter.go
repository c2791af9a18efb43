package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/sequence-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 10
	throttleWindow           = time.Second
)

// Windows are aligned to wall-clock seconds, so every engine process
// counts against the same key for a sender.
var throttleScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps sends per sender address per second across all
// engine processes.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, sender string) (bool, error) {
	retryIn, err := r.take(ctx, sender)
	return retryIn == 0, err
}

// Wait blocks until the sender has budget, sleeping to the start of the
// next window each time the current one is spent.
func (r *RedisRateLimiter) Wait(ctx context.Context, sender string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		retryIn, err := r.take(ctx, sender)
		if err != nil {
			return err
		}
		if retryIn == 0 {
			return nil
		}
		if err := r.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

// take consumes one send from the sender's current window. It returns zero
// when the send may go ahead, otherwise the time until the window closes.
func (r *RedisRateLimiter) take(ctx context.Context, sender string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return 0, fmt.Errorf("sender is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now().UTC()
	window := now.Truncate(throttleWindow)
	key := fmt.Sprintf("throttle:sender:%s:%d", sender, window.Unix())

	allowed, err := throttleScript.Run(ctx, r.client, []string{key}, r.limitPerSec, throttleWindow.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate send throttle: %w", err)
	}
	if allowed == 1 {
		return 0, nil
	}
	return window.Add(throttleWindow).Sub(now), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
