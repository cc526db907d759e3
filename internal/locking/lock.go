package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/gainy-app/gainy-compute-sub000/internal/retry"
)

// Locker is a non-blocking keyed mutual-exclusion primitive.
type Locker interface {
	// TryLock attempts to take the lock for key without waiting.
	TryLock(ctx context.Context, key ResourceKey) (bool, error)
	// Unlock releases a lock previously taken by TryLock.
	Unlock(ctx context.Context, key ResourceKey) error
}

// maxPollInterval caps a single wait between TryLock attempts.
const maxPollInterval = time.Second

// pollPolicy spaces out TryLock attempts while waiting for a lock.
var pollPolicy = retry.Policy{
	Base:   2,
	Factor: 10 * time.Millisecond,
	Jitter: retry.HalfJitter,
}

// Lock polls locker until key is acquired or timeout elapses. Each sleep is
// capped to the time left so the timeout error is returned close to the deadline.
func Lock(ctx context.Context, locker Locker, key ResourceKey, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for attempt := 0; ; attempt++ {
		ok, err := locker.TryLock(ctx, key)
		if err != nil {
			return fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &LockAcquisitionTimeoutError{Key: key, Timeout: timeout}
		}
		d := min(pollPolicy.Delay(attempt), maxPollInterval)
		if d > remaining {
			d = remaining
		}
		if err := retry.SleepContext(ctx, d); err != nil {
			return err
		}
	}
}

// WithLock runs fn while holding the lock for key. The lock is released on
// every exit path, including a panic in fn.
func WithLock(ctx context.Context, locker Locker, key ResourceKey, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	if err := Lock(ctx, locker, key, timeout); err != nil {
		return err
	}
	defer func() {
		// Unlock with a fresh context so a cancelled caller still releases the lock.
		if uerr := locker.Unlock(context.WithoutCancel(ctx), key); uerr != nil && err == nil {
			err = fmt.Errorf("releasing lock %s: %w", key, uerr)
		}
	}()
	return fn(ctx)
}
