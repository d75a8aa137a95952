package planner

import (
	"fmt"
	"strings"
)

const itinerarySchema = `{
  "destination": "<city, country>",
  "startDate": "<YYYY-MM-DD>",
  "endDate": "<YYYY-MM-DD>",
  "items": [
    {
      "day": 1,
      "date": "<YYYY-MM-DD>",
      "summary": "<one line>",
      "activities": [
        {"name": "", "url": "", "time": "", "address": "", "notes": "", "estCost": "", "travel": "<mode + minutes>"}
      ]
    }
  ],
  "sources": [{"title": "", "url": ""}]
}`

// SystemPrompt builds the agent instructions. httpMaxCalls is the http_request budget the
// model is told about; the tool enforces the same number.
func SystemPrompt(httpMaxCalls int) string {
	var b strings.Builder
	b.WriteString("You are a travel-planning agent.\n\n")

	b.WriteString("Web policy:\n")
	fmt.Fprintf(&b, "- Call http_request at most %d times in total.\n", httpMaxCalls)
	b.WriteString("- Prefer official tourism and transit sites and Wikipedia.\n")
	b.WriteString("- Stop browsing once you have enough facts.\n")
	b.WriteString("- Never paste raw page bodies; quote at most about 400 characters per source.\n\n")

	b.WriteString("Required sequence:\n")
	b.WriteString("1. Start with at least one http_request call for baseline context.\n")
	b.WriteString("2. Then call the OpenTripMap tools in this order, skipping one only if it errors:\n")
	fmt.Fprintf(&b, "   a. %s to resolve the destination to coordinates.\n", toolGeoname)
	fmt.Fprintf(&b, "   b. %s for candidate points of interest matching the preferences.\n", toolPlacesRadius)
	fmt.Fprintf(&b, "   c. %s for nearby food spots, beaches or other relevant categories.\n", toolAutosuggest)
	fmt.Fprintf(&b, "   d. %s for the places you plan to include.\n", toolPlaceDetails)
	b.WriteString("3. If a required tool fails, retry once. If it fails again, say so in a STATUS line and continue.\n\n")

	b.WriteString("Protocol (user-visible progress only, no hidden reasoning):\n")
	b.WriteString("- Emit short lines such as:\n")
	b.WriteString("  STATUS: researching buses\n")
	b.WriteString("  TOOL: http_request GET https://example.org/...\n")
	b.WriteString("  TOOL_RESULT: ok 2345 chars\n")
	fmt.Fprintf(&b, "- When the plan is ready, call %s exactly once.\n\n", toolSaveItinerary)

	b.WriteString("Itinerary JSON schema:\n")
	b.WriteString(itinerarySchema)
	b.WriteString("\n\nQuality:\n")
	b.WriteString("- 2-6 activities per day; include travel mode, travel time and rough costs when known.\n")
	b.WriteString("- List every URL you relied on in \"sources\".\n")
	return b.String()
}

// UserPrompt renders the first user turn: a context block followed by the request itself.
func UserPrompt(req Request) string {
	trip := req.Trip
	dates := "unspecified"
	switch {
	case trip.StartDate != "" && trip.EndDate != "":
		dates = trip.StartDate + " to " + trip.EndDate
	case trip.DayCount() > 0:
		dates = fmt.Sprintf("%d days", trip.DayCount())
	}
	prefs := trip.Preferences
	if prefs == "" {
		prefs = "none"
	}
	requestID := trip.RequestID
	if requestID == "" {
		requestID = req.JobID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "UserId: %s\n", req.UserID)
	fmt.Fprintf(&b, "RequestId: %s\n", requestID)
	fmt.Fprintf(&b, "Destination: %s\n", trip.Destination)
	fmt.Fprintf(&b, "Dates: %s\n", dates)
	fmt.Fprintf(&b, "Preferences: %s\n", prefs)
	fmt.Fprintf(&b, "Follow the protocol; emit STATUS/TOOL lines; call %s exactly once.\n\n", toolSaveItinerary)
	fmt.Fprintf(&b, "User request: %s", trip.Query())
	return b.String()
}
