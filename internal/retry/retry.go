// Package retry runs an operation repeatedly with exponential backoff until it
// succeeds, a non-retryable error is returned, or the attempt budget runs out.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// JitterFunc maps a computed backoff delay to the delay actually slept.
type JitterFunc func(time.Duration) time.Duration

// Policy describes how many attempts to make and how long to wait between them.
// The delay before attempt n+1 is Jitter(Factor * Base^n).
type Policy struct {
	MaxTries int
	Base     float64
	Factor   time.Duration
	Jitter   JitterFunc

	// Sleep waits for d or until ctx is done. Tests replace it to run instantly.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is used by the locking templates: base 2, 100ms factor, half jitter.
func DefaultPolicy(maxTries int) Policy {
	return Policy{
		MaxTries: maxTries,
		Base:     2,
		Factor:   100 * time.Millisecond,
		Jitter:   HalfJitter,
	}
}

// Backoff returns Factor * Base^attempt for the zero-based attempt number.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 2
	}
	d := float64(p.Factor) * math.Pow(base, float64(attempt))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Delay returns the jittered delay to wait after the given failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Backoff(attempt)
	if p.Jitter != nil {
		d = p.Jitter(d)
	}
	return d
}

// HalfJitter keeps half of d fixed and randomizes the other half.
func HalfJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	if half == 0 {
		return d
	}
	return half + rand.N(d-half)
}

// NoJitter returns d unchanged.
func NoJitter(d time.Duration) time.Duration { return d }

// Do calls fn until it returns nil, retryIf reports false for its error, or
// MaxTries attempts have been made. The last error is returned.
func Do(ctx context.Context, p Policy, retryIf func(error) bool, fn func(ctx context.Context) error) error {
	tries := p.MaxTries
	if tries < 1 {
		tries = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 0; attempt < tries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryIf != nil && !retryIf(err) {
			return err
		}
		if attempt == tries-1 {
			break
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return err
		}
	}
	return err
}

// SleepContext blocks for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
