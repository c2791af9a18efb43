package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out SET NX locks with an owner token so a process can only
// release what it acquired.
type Locker struct {
	client *goredis.Client
	prefix string
}

func NewLocker(client *goredis.Client) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Locker{client: client, prefix: "lock:"}, nil
}

// Lock is a held lock. Release is a no-op once the TTL has expired or the
// key was taken over by another owner.
type Lock struct {
	client *goredis.Client
	key    string
	token  string
}

// TryLock acquires key for ttl without blocking. ok is false when another
// owner holds it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, fmt.Errorf("locker is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lock ttl must be positive")
	}

	lock := &Lock{
		client: l.client,
		key:    l.prefix + key,
		token:  uuid.NewString(),
	}

	acquired, err := l.client.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", lock.key, err)
	}
	if !acquired {
		return nil, false, nil
	}
	return lock, true, nil
}

func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// TryAcquire is TryLock for callers that only need the release function.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return lock.Release, true, nil
}
