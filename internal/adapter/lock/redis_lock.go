// Package lock implements the per-key mutual exclusion used around every
// stock ledger mutation.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/telbo/device-inventory/internal/port"
)

const (
	// DefaultWait bounds how long a caller queues for a contended key.
	DefaultWait = 5 * time.Second
	// DefaultLease bounds how long a crashed holder can keep a key wedged.
	// Critical sections must finish well inside this window.
	DefaultLease = 30 * time.Second
	// DefaultRetryInterval is the poll cadence while waiting.
	DefaultRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still carries this holder's
// token, so an expired lease taken over by another holder is never
// force-released.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type Options struct {
	Wait          time.Duration
	Lease         time.Duration
	RetryInterval time.Duration
}

// RedisLock is a lease-based lock shared by all service instances through
// one Redis. Acquisition is SET NX PX with a random holder token; release
// is the owner-checked script above. Implements port.LockRepository.
type RedisLock struct {
	client *redis.Client
	opts   Options
}

func NewRedisLock(client *redis.Client, opts Options) *RedisLock {
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	return &RedisLock{client: client, opts: opts}
}

// WithLock runs fn while holding the lease for key. On timeout fn is never
// invoked. Release happens exactly once on every exit path; a failed
// release after a successful fn is logged, not returned, because the lease
// expires on its own.
func (l *RedisLock) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer l.release(key, token)

	return fn(ctx)
}

func (l *RedisLock) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.opts.Wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.Lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(ctx)
			}
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return port.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return interrupted(ctx)
		case <-time.After(l.opts.RetryInterval):
		}
	}
}

func (l *RedisLock) release(key, token string) {
	// Fresh context: the caller's may already be cancelled, and skipping
	// the release would hold the key until the lease runs out.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		log.Error().Err(err).Str("key", key).Msg("lock release failed, lease will expire on its own")
	}
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", port.ErrLockInterrupted, ctx.Err())
}
