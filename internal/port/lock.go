package port

import (
	"context"
	"errors"
)

var (
	// ErrLockTimeout means the bounded wait elapsed before the lease could
	// be acquired. Retryable by the caller; never retried internally.
	ErrLockTimeout = errors.New("lock acquisition timeout")

	// ErrLockInterrupted means the caller's context was cancelled while
	// waiting for the lease.
	ErrLockInterrupted = errors.New("lock acquisition interrupted")
)

// LockRepository provides mutual exclusion across process instances for a
// named resource key. Leases auto-expire so a crashed holder cannot wedge
// a key forever.
type LockRepository interface {
	// WithLock runs fn while holding the lease for key. Acquisition waits
	// up to the configured bound; on timeout fn is never invoked and
	// ErrLockTimeout is returned. The lease is released on every exit
	// path, and only when still owned by this caller.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
