// Package itinerary persists finished trip plans per user.
package itinerary

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"itinerary-planner/internal/models"
)

const idNamespace = "itinerary-planner:"

// DefaultListLimit applies when callers pass a non-positive limit.
const DefaultListLimit = 10

// Repository stores itineraries keyed by (user, itinerary id).
type Repository interface {
	// Save inserts the itinerary unless one with the same id exists for the user. created
	// reports whether this call wrote it.
	Save(ctx context.Context, it models.Itinerary) (created bool, err error)
	// List returns the user's itineraries, newest first.
	List(ctx context.Context, userID string, limit int) ([]models.Itinerary, error)
}

// StableID derives a deterministic itinerary id so a retried save of the same request maps to
// the same record. The request id wins when present.
func StableID(userID, destination, start, end, requestID string) string {
	base := requestID
	if base == "" {
		base = fmt.Sprintf("%s|%s|%s|%s", userID, destination, start, end)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(idNamespace+base)).String()
}

// Normalize fills defaults before a save.
func Normalize(it models.Itinerary, requestID string, now time.Time) models.Itinerary {
	if it.ItineraryID == "" {
		it.ItineraryID = StableID(it.UserID, it.Destination, it.StartDate, it.EndDate, requestID)
	}
	if it.Items == nil {
		it.Items = []models.ItineraryDay{}
	}
	if it.Sources == nil {
		it.Sources = []models.Source{}
	}
	if it.CreatedAt == "" {
		it.CreatedAt = now.UTC().Format(time.RFC3339)
	}
	return it
}

// Memory is an in-process repository.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]models.Itinerary
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]models.Itinerary)}
}

func (m *Memory) Save(_ context.Context, it models.Itinerary) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items[it.UserID] {
		if existing.ItineraryID == it.ItineraryID {
			return false, nil
		}
	}
	m.items[it.UserID] = append(m.items[it.UserID], it)
	return true, nil
}

func (m *Memory) List(_ context.Context, userID string, limit int) ([]models.Itinerary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	out := append([]models.Itinerary(nil), m.items[userID]...)
	m.mu.RUnlock()

	// Newest first; insertion order breaks ties.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Repository = (*Memory)(nil)
