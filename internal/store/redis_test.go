package store_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinerary-planner/internal/models"
	"itinerary-planner/internal/store"
	"itinerary-planner/internal/store/storetest"
)

func newRedisStore(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedis(client, "job:", 8), mr
}

func TestRedisStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := newRedisStore(t)
		return s
	})
}

func TestRedisStoreKeyLayout(t *testing.T) {
	s, mr := newRedisStore(t)
	_, err := s.Create(context.Background(), models.Job{ID: "abc"})
	require.NoError(t, err)

	raw, err := mr.Get("job:abc")
	require.NoError(t, err)
	assert.Contains(t, raw, `"status":"PENDING"`)
	assert.Contains(t, raw, `"progress_log":[]`)
}
