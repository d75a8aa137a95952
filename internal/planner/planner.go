// Package planner turns a trip request into a saved itinerary. The worker treats a Planner as
// an opaque, long-running operation that may report progress lines while it runs.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"itinerary-planner/internal/archive"
	"itinerary-planner/internal/models"
)

// Request is everything a planner needs for one job.
type Request struct {
	JobID  string
	UserID string
	Trip   models.TripRequest
}

// ProgressFunc records one human-readable progress line. Planners keep going when it fails.
type ProgressFunc func(ctx context.Context, line string) error

// Planner runs a planning request to completion.
type Planner interface {
	Plan(ctx context.Context, req Request, progress ProgressFunc) (models.Result, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, req Request, progress ProgressFunc) (models.Result, error)

func (f PlannerFunc) Plan(ctx context.Context, req Request, progress ProgressFunc) (models.Result, error) {
	return f(ctx, req, progress)
}

// report sends line to progress. Recording failures are already logged by the caller's
// ProgressFunc, so planning carries on.
func report(ctx context.Context, progress ProgressFunc, line string) {
	if progress == nil {
		return
	}
	_ = progress(ctx, line)
}

func archiveKey(it models.Itinerary) string {
	return fmt.Sprintf("itineraries/%s/%s.json", it.UserID, it.ItineraryID)
}

// archiveItinerary uploads it when an archiver is configured and returns its location. A
// failed upload does not fail the plan.
func archiveItinerary(ctx context.Context, archiver archive.Archiver, it models.Itinerary, progress ProgressFunc, log zerolog.Logger) string {
	if archiver == nil {
		return ""
	}
	body, err := json.MarshalIndent(it, "", "  ")
	if err == nil {
		var location string
		location, err = archiver.Archive(ctx, archiveKey(it), body, "application/json")
		if err == nil {
			return location
		}
	}
	log.Warn().Err(err).Str("itinerary_id", it.ItineraryID).Msg("itinerary not archived")
	report(ctx, progress, "STATUS: archive upload failed")
	return ""
}
