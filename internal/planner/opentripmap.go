package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const otmResultLimit = 8000

// OpenTripMap is a small client for the OpenTripMap places API. Each endpoint is exposed to the
// agent as its own tool.
type OpenTripMap struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenTripMap builds a client for baseURL, e.g. https://api.opentripmap.com/0.1/en.
func NewOpenTripMap(baseURL, apiKey string, client *http.Client) *OpenTripMap {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenTripMap{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// Tools returns the four place tools in the order the agent is asked to use them.
func (o *OpenTripMap) Tools() []Tool {
	return []Tool{
		&otmTool{otm: o, spec: ToolSpec{
			Name:        toolGeoname,
			Description: "Resolve a place name to coordinates, country and population.",
			Schema: objectSchema([]string{"name"}, map[string]any{
				"name":    prop("string", "Place name, e.g. Lisbon."),
				"country": prop("string", "Optional two-letter country code."),
			}),
		}, build: geonameQuery},
		&otmTool{otm: o, spec: ToolSpec{
			Name:        toolPlacesRadius,
			Description: "List points of interest within a radius of a coordinate.",
			Schema: objectSchema([]string{"lat", "lon"}, map[string]any{
				"lat":    prop("number", "Latitude."),
				"lon":    prop("number", "Longitude."),
				"radius": prop("integer", "Radius in meters, default 5000."),
				"kinds":  prop("string", "Comma-separated categories, e.g. museums,foods."),
				"limit":  prop("integer", "Maximum results, default 20."),
			}),
		}, build: radiusQuery},
		&otmTool{otm: o, spec: ToolSpec{
			Name:        toolAutosuggest,
			Description: "Suggest places near a coordinate whose names match a search term.",
			Schema: objectSchema([]string{"name", "lat", "lon"}, map[string]any{
				"name":   prop("string", "Search term, at least three characters."),
				"lat":    prop("number", "Latitude."),
				"lon":    prop("number", "Longitude."),
				"radius": prop("integer", "Radius in meters, default 5000."),
				"kinds":  prop("string", "Comma-separated categories."),
				"limit":  prop("integer", "Maximum results, default 10."),
			}),
		}, build: autosuggestQuery},
		&otmTool{otm: o, spec: ToolSpec{
			Name:        toolPlaceDetails,
			Description: "Fetch details of a place by its OpenTripMap xid.",
			Schema: objectSchema([]string{"xid"}, map[string]any{
				"xid": prop("string", "Place identifier returned by the other place tools."),
			}),
		}, build: detailsQuery},
	}
}

type otmInput struct {
	Name    string   `json:"name"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Radius  int      `json:"radius"`
	Kinds   string   `json:"kinds"`
	Limit   int      `json:"limit"`
	XID     string   `json:"xid"`
}

type otmTool struct {
	otm   *OpenTripMap
	spec  ToolSpec
	build func(otmInput) (string, url.Values, error)
}

func (t *otmTool) Spec() ToolSpec { return t.spec }

func (t *otmTool) Call(ctx context.Context, _ *Run, input json.RawMessage) (string, error) {
	var in otmInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	path, q, err := t.build(in)
	if err != nil {
		return "", err
	}
	return t.otm.get(ctx, path, q)
}

func (o *OpenTripMap) get(ctx context.Context, path string, q url.Values) (string, error) {
	if o.apiKey != "" {
		q.Set("apikey", o.apiKey)
	}
	endpoint := o.baseURL + path
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("opentripmap %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))
	if err != nil {
		return "", fmt.Errorf("opentripmap %s: read body: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("opentripmap %s: status %d: %s", path, resp.StatusCode, clip(strings.TrimSpace(string(body)), 200))
	}
	return clip(string(body), otmResultLimit), nil
}

func geonameQuery(in otmInput) (string, url.Values, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", nil, errors.New("name is required")
	}
	q := url.Values{"name": {in.Name}}
	if in.Country != "" {
		q.Set("country", in.Country)
	}
	return "/places/geoname", q, nil
}

func radiusQuery(in otmInput) (string, url.Values, error) {
	q, err := areaQuery(in, 20)
	if err != nil {
		return "", nil, err
	}
	return "/places/radius", q, nil
}

func autosuggestQuery(in otmInput) (string, url.Values, error) {
	if len([]rune(strings.TrimSpace(in.Name))) < 3 {
		return "", nil, errors.New("name must be at least 3 characters")
	}
	q, err := areaQuery(in, 10)
	if err != nil {
		return "", nil, err
	}
	q.Set("name", in.Name)
	return "/places/autosuggest", q, nil
}

func detailsQuery(in otmInput) (string, url.Values, error) {
	xid := strings.TrimSpace(in.XID)
	if xid == "" {
		return "", nil, errors.New("xid is required")
	}
	return "/places/xid/" + url.PathEscape(xid), url.Values{}, nil
}

func areaQuery(in otmInput, defaultLimit int) (url.Values, error) {
	if in.Lat == nil || in.Lon == nil {
		return nil, errors.New("lat and lon are required")
	}
	radius := in.Radius
	if radius <= 0 {
		radius = 5000
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	q := url.Values{
		"lat":    {strconv.FormatFloat(*in.Lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(*in.Lon, 'f', -1, 64)},
		"radius": {strconv.Itoa(radius)},
		"limit":  {strconv.Itoa(limit)},
		"format": {"json"},
	}
	if in.Kinds != "" {
		q.Set("kinds", in.Kinds)
	}
	return q, nil
}
