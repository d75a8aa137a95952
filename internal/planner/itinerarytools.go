package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"itinerary-planner/internal/itinerary"
	"itinerary-planner/internal/models"
)

// SaveItineraryTool persists the agent's finished plan for the run's user.
type SaveItineraryTool struct {
	repo itinerary.Repository
	now  func() time.Time
}

func NewSaveItineraryTool(repo itinerary.Repository) *SaveItineraryTool {
	return &SaveItineraryTool{repo: repo, now: time.Now}
}

func (t *SaveItineraryTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        toolSaveItinerary,
		Description: "Save the finished itinerary. Returns saved:<id>, or duplicate:<id> if this request was already saved.",
		Schema: objectSchema([]string{"itinerary"}, map[string]any{
			"itinerary": map[string]any{"type": "object", "description": "Itinerary following the schema in the instructions."},
		}),
	}
}

type saveInput struct {
	Itinerary json.RawMessage `json:"itinerary"`
}

func (t *SaveItineraryTool) Call(ctx context.Context, run *Run, input json.RawMessage) (string, error) {
	var in saveInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	raw := bytes.TrimSpace(in.Itinerary)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("itinerary is required")
	}
	// Some models send the itinerary as a JSON-encoded string.
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid itinerary: %w", err)
		}
		raw = []byte(s)
	}
	var it models.Itinerary
	if err := json.Unmarshal(raw, &it); err != nil {
		return "", fmt.Errorf("invalid itinerary: %w", err)
	}
	if strings.TrimSpace(it.Destination) == "" {
		it.Destination = run.Request.Trip.Destination
	}

	// The id is always derived so a retried job lands on the same record.
	it.UserID = run.Request.UserID
	it.ItineraryID = ""
	it = itinerary.Normalize(it, run.RequestID(), t.now())

	created, err := t.repo.Save(ctx, it)
	if err != nil {
		return "", fmt.Errorf("save itinerary: %w", err)
	}
	run.saved = &it
	if !created {
		return "duplicate:" + it.ItineraryID, nil
	}
	return "saved:" + it.ItineraryID, nil
}

// GetItinerariesTool lists the run user's saved itineraries, newest first.
type GetItinerariesTool struct {
	repo itinerary.Repository
}

func NewGetItinerariesTool(repo itinerary.Repository) *GetItinerariesTool {
	return &GetItinerariesTool{repo: repo}
}

func (t *GetItinerariesTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        toolGetItineraries,
		Description: "List the user's previously saved itineraries, newest first.",
		Schema: objectSchema(nil, map[string]any{
			"limit": prop("integer", fmt.Sprintf("Maximum results, default %d.", itinerary.DefaultListLimit)),
		}),
	}
}

func (t *GetItinerariesTool) Call(ctx context.Context, run *Run, input json.RawMessage) (string, error) {
	var in struct {
		Limit int `json:"limit"`
	}
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	items, err := t.repo.List(ctx, run.Request.UserID, in.Limit)
	if err != nil {
		return "", fmt.Errorf("list itineraries: %w", err)
	}
	out, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
