package store_test

import (
	"testing"

	"itinerary-planner/internal/store"
	"itinerary-planner/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}
