package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/telbo/device-inventory/internal/port"
)

func TestLocalLock_MutualExclusion(t *testing.T) {
	l := NewLocalLock(5 * time.Second)

	var inCritical atomic.Int32
	var overlaps atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "key-a", func(ctx context.Context) error {
				if inCritical.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(time.Millisecond)
				inCritical.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlaps.Load() != 0 {
		t.Errorf("critical section overlapped %d times", overlaps.Load())
	}
}

func TestLocalLock_Timeout(t *testing.T) {
	l := NewLocalLock(50 * time.Millisecond)

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "key-a", func(ctx context.Context) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held
	defer close(hold)

	err := l.WithLock(context.Background(), "key-a", func(ctx context.Context) error {
		t.Error("operation must not run after timeout")
		return nil
	})
	if !errors.Is(err, port.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestLocalLock_Interrupted(t *testing.T) {
	l := NewLocalLock(5 * time.Second)

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "key-a", func(ctx context.Context) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held
	defer close(hold)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := l.WithLock(ctx, "key-a", func(ctx context.Context) error {
		t.Error("operation must not run after interruption")
		return nil
	})
	if !errors.Is(err, port.ErrLockInterrupted) {
		t.Fatalf("expected ErrLockInterrupted, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestLocalLock_IndependentKeys(t *testing.T) {
	l := NewLocalLock(100 * time.Millisecond)

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "key-a", func(ctx context.Context) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held
	defer close(hold)

	// A different key proceeds while key-a is held.
	err := l.WithLock(context.Background(), "key-b", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
}

func TestLocalLock_OperationErrorPropagates(t *testing.T) {
	l := NewLocalLock(time.Second)
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "key-a", func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected operation error, got %v", err)
	}

	// The lock is free again after a failing operation.
	err = l.WithLock(context.Background(), "key-a", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("lock not released after failure: %v", err)
	}
}
