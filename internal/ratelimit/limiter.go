package ratelimit

import "context"

// RateLimiter throttles provider calls per key. The engine keys it by sender
// address so one mailbox never exceeds the provider's per-second budget.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
