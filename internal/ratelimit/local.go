package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local is a per-process token bucket keyed by caller, used when no Redis is configured.
type Local struct {
	mu       sync.Mutex
	buckets  map[string]*localBucket
	capacity int
	refill   rate.Limit
	ttl      time.Duration
	now      func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocal mirrors NewTokenBucket. Buckets idle for longer than ttl are forgotten.
func NewLocal(capacity int, refillPerSecond float64, ttl time.Duration) *Local {
	return &Local{
		buckets:  make(map[string]*localBucket),
		capacity: capacity,
		refill:   rate.Limit(refillPerSecond),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow consumes a single token for the given key if available.
func (l *Local) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(l.refill, l.capacity)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: b.limiter.TokensAt(now)}, nil
	}
	tokens := b.limiter.TokensAt(now)
	return Decision{Remaining: tokens, RetryAfter: waitFor(tokens, float64(l.refill))}, nil
}

func (l *Local) evict(now time.Time) {
	if l.ttl <= 0 {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, k)
		}
	}
}

var (
	_ Limiter = (*Local)(nil)
	_ Limiter = (*TokenBucket)(nil)
)
