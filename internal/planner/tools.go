package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"itinerary-planner/internal/models"
)

const (
	toolHTTPRequest    = "http_request"
	toolGeoname        = "otm_geoname"
	toolPlacesRadius   = "otm_places_radius"
	toolAutosuggest    = "otm_autosuggest"
	toolPlaceDetails   = "otm_place_details"
	toolSaveItinerary  = "save_itinerary"
	toolGetItineraries = "get_itineraries"
)

// Tool is a capability the agent can invoke. Returned errors are reported back to the model as
// failed tool results; they do not end the run.
type Tool interface {
	Spec() ToolSpec
	Call(ctx context.Context, run *Run, input json.RawMessage) (string, error)
}

// Run is the per-job state shared by the tools of one planning run.
type Run struct {
	Request Request

	httpCalls int
	saved     *models.Itinerary
}

// NewRun starts tool state for req.
func NewRun(req Request) *Run {
	return &Run{Request: req}
}

// RequestID is the idempotency key for the run's itinerary: the caller's request id when
// given, the job id otherwise.
func (r *Run) RequestID() string {
	if r.Request.Trip.RequestID != "" {
		return r.Request.Trip.RequestID
	}
	return r.Request.JobID
}

// Saved returns the itinerary recorded by save_itinerary, if any.
func (r *Run) Saved() (models.Itinerary, bool) {
	if r.saved == nil {
		return models.Itinerary{}, false
	}
	return *r.saved, true
}

func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid tool input: %w", err)
	}
	return nil
}

// clip shortens s to at most n runes.
func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + fmt.Sprintf("\n[truncated %d chars]", len(r)-n)
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
