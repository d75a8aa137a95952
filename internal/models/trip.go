package models

import (
	"fmt"
	"strings"
	"time"
)

// TripRequest is the structured input of a planning job.
type TripRequest struct {
	RequestID   string `json:"request_id,omitempty" dynamodbav:"request_id,omitempty"`
	Destination string `json:"destination" dynamodbav:"destination"`
	StartDate   string `json:"start_date,omitempty" dynamodbav:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty" dynamodbav:"end_date,omitempty"`
	Days        int    `json:"days,omitempty" dynamodbav:"days,omitempty"`
	Preferences string `json:"preferences,omitempty" dynamodbav:"preferences,omitempty"`
	Prompt      string `json:"prompt,omitempty" dynamodbav:"prompt,omitempty"`
}

// DayCount returns the trip length, derived from the dates when Days is unset.
func (r TripRequest) DayCount() int {
	if r.Days > 0 {
		return r.Days
	}
	start, err1 := time.Parse(time.DateOnly, r.StartDate)
	end, err2 := time.Parse(time.DateOnly, r.EndDate)
	if err1 != nil || err2 != nil || end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// Query returns the natural-language request handed to the planner.
func (r TripRequest) Query() string {
	if p := strings.TrimSpace(r.Prompt); p != "" {
		return p
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a trip to %s", r.Destination)
	switch {
	case r.StartDate != "" && r.EndDate != "":
		fmt.Fprintf(&b, " from %s to %s", r.StartDate, r.EndDate)
	case r.DayCount() > 0:
		fmt.Fprintf(&b, " for %d days", r.DayCount())
	}
	b.WriteString(".")
	if r.Preferences != "" {
		fmt.Fprintf(&b, " Preferences: %s", r.Preferences)
	}
	return b.String()
}

// Activity is one stop within an itinerary day.
type Activity struct {
	Name    string `json:"name" dynamodbav:"name"`
	URL     string `json:"url,omitempty" dynamodbav:"url,omitempty"`
	Time    string `json:"time,omitempty" dynamodbav:"time,omitempty"`
	Address string `json:"address,omitempty" dynamodbav:"address,omitempty"`
	Notes   string `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
	EstCost string `json:"estCost,omitempty" dynamodbav:"estCost,omitempty"`
	Travel  string `json:"travel,omitempty" dynamodbav:"travel,omitempty"`
}

// ItineraryDay groups the activities of one day.
type ItineraryDay struct {
	Day        int        `json:"day" dynamodbav:"day"`
	Date       string     `json:"date,omitempty" dynamodbav:"date,omitempty"`
	Summary    string     `json:"summary" dynamodbav:"summary"`
	Activities []Activity `json:"activities" dynamodbav:"activities"`
}

// Source is a reference the planner consulted.
type Source struct {
	Title string `json:"title" dynamodbav:"title"`
	URL   string `json:"url" dynamodbav:"url"`
}

// Itinerary is the saved planning result.
type Itinerary struct {
	UserID      string         `json:"userId" dynamodbav:"userId"`
	ItineraryID string         `json:"itineraryId" dynamodbav:"itineraryId"`
	Destination string         `json:"destination" dynamodbav:"destination"`
	StartDate   string         `json:"startDate" dynamodbav:"startDate"`
	EndDate     string         `json:"endDate" dynamodbav:"endDate"`
	Items       []ItineraryDay `json:"items" dynamodbav:"items"`
	Sources     []Source       `json:"sources" dynamodbav:"sources"`
	CreatedAt   string         `json:"createdAt" dynamodbav:"createdAt"`
}
