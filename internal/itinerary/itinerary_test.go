package itinerary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinerary-planner/internal/models"
	"itinerary-planner/internal/testutil"
)

func TestStableID(t *testing.T) {
	a := StableID("u-1", "Lisbon", "2025-12-14", "2025-12-16", "")
	b := StableID("u-1", "Lisbon", "2025-12-14", "2025-12-16", "")
	c := StableID("u-2", "Lisbon", "2025-12-14", "2025-12-16", "")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	r1 := StableID("u-1", "Lisbon", "", "", "req-42")
	r2 := StableID("u-9", "Porto", "x", "y", "req-42")
	assert.Equal(t, r1, r2, "request id wins over the trip tuple")
}

func TestNormalize(t *testing.T) {
	now := time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	it := Normalize(models.Itinerary{UserID: "u-1", Destination: "Lisbon"}, "req-1", now)
	assert.Equal(t, StableID("u-1", "Lisbon", "", "", "req-1"), it.ItineraryID)
	assert.Equal(t, "2025-12-01T08:00:00Z", it.CreatedAt)
	assert.NotNil(t, it.Items)
	assert.NotNil(t, it.Sources)

	kept := Normalize(models.Itinerary{ItineraryID: "fixed", CreatedAt: "earlier"}, "", now)
	assert.Equal(t, "fixed", kept.ItineraryID)
	assert.Equal(t, "earlier", kept.CreatedAt)
}

func runRepositoryTests(t *testing.T, newRepo func() Repository) {
	t.Run("SaveIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo()
		it := models.Itinerary{UserID: "u-1", ItineraryID: "it-1", Destination: "Lisbon", CreatedAt: "2025-12-01T08:00:00Z"}

		created, err := repo.Save(ctx, it)
		require.NoError(t, err)
		assert.True(t, created)

		it.Destination = "Porto"
		created, err = repo.Save(ctx, it)
		require.NoError(t, err)
		assert.False(t, created)

		list, err := repo.List(ctx, "u-1", 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Lisbon", list[0].Destination)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo()
		for i, ts := range []string{"2025-12-01T08:00:00Z", "2025-12-03T08:00:00Z", "2025-12-02T08:00:00Z"} {
			_, err := repo.Save(ctx, models.Itinerary{UserID: "u-1", ItineraryID: string(rune('a' + i)), CreatedAt: ts})
			require.NoError(t, err)
		}
		_, err := repo.Save(ctx, models.Itinerary{UserID: "u-2", ItineraryID: "z", CreatedAt: "2025-12-04T08:00:00Z"})
		require.NoError(t, err)

		list, err := repo.List(ctx, "u-1", 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "b", list[0].ItineraryID)
		assert.Equal(t, "c", list[1].ItineraryID)

		list, err = repo.List(ctx, "nobody", 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryTests(t, func() Repository { return NewMemory() })
}

func TestDynamoRepository(t *testing.T) {
	runRepositoryTests(t, func() Repository {
		return NewDynamo(testutil.NewFakeDynamo("userId", "itineraryId"), "travel_itineraries")
	})
}
