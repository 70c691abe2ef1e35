package lock

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/telbo/device-inventory/internal/port"
)

// LocalLock is the single-process variant of the lock coordinator: a keyed
// mutex with the same bounded-wait contract as RedisLock. Suitable only
// when exactly one instance writes the ledger; there is no lease because a
// process crash takes every holder with it. Also the lock used by the
// service unit tests.
type LocalLock struct {
	wait time.Duration
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func NewLocalLock(wait time.Duration) *LocalLock {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &LocalLock{
		wait: wait,
		sems: make(map[string]*semaphore.Weighted),
	}
}

func (l *LocalLock) sem(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[key] = s
	}
	return s
}

// WithLock runs fn while holding the key's semaphore, waiting at most the
// configured bound.
func (l *LocalLock) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.sem(key)

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	if err := s.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		return port.ErrLockTimeout
	}
	defer s.Release(1)

	return fn(ctx)
}
