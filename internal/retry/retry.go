// Package retry provides exponential backoff with jitter for transient backend faults.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Backoff returns the wait before the given attempt (1-based): base doubled per attempt,
// capped at max, with the upper half randomized.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := max
	if exp < float64(max) {
		wait = time.Duration(exp)
	}
	if wait/2 <= 0 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

// Do calls fn until it succeeds, returns an error retryable rejects, the attempts run out or
// ctx ends. The last error from fn is returned.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(Backoff(p.Initial, p.Max, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
