package worker

import (
	"context"
	"errors"

	"itinerary-planner/internal/models"
)

var (
	// ErrPoolFull is returned when the in-process pool has no free buffer slot.
	ErrPoolFull = errors.New("worker pool is full")
	// ErrPoolClosed is returned after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Launcher starts a job in the background. Launch returns once the job is handed off, before
// any planning work happens; callers keep no handle to it.
type Launcher interface {
	Launch(ctx context.Context, jobID string, input models.TripRequest) error
}
