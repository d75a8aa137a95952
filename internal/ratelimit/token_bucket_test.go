package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	b := NewTokenBucket(client, capacity, refill, time.Minute)
	b.now = func() time.Time { return clock }
	return b, mr, &clock
}

func TestTokenBucketPerUser(t *testing.T) {
	ctx := context.Background()
	b, mr, _ := newBucket(t, 2, 1)

	for i := 0; i < 2; i++ {
		d, err := b.Allow(ctx, "user:alice")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := b.Allow(ctx, "user:alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	d, err = b.Allow(ctx, "user:bob")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "each user has a separate bucket")
	assert.InDelta(t, 1.0, d.Remaining, 1e-9)

	assert.True(t, mr.Exists("ratelimit:user:alice"))
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:user:alice"))
}

func TestTokenBucketRefillKeepsFractions(t *testing.T) {
	ctx := context.Background()
	b, _, clock := newBucket(t, 1, 0.5)

	d, err := b.Allow(ctx, "user:carol")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	*clock = clock.Add(time.Second)
	d, err = b.Allow(ctx, "user:carol")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 0.5, d.Remaining, 1e-9)
	assert.Equal(t, time.Second, d.RetryAfter)

	*clock = clock.Add(time.Second)
	d, err = b.Allow(ctx, "user:carol")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTokenBucketRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	_, err := NewTokenBucket(client, 1, 1, time.Minute).Allow(context.Background(), "user:dave")
	require.ErrorContains(t, err, "user:dave")
}
