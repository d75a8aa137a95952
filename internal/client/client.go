// Package client talks to the planner API and follows jobs to completion.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
)

// ErrRateLimited is returned when the API rejects a start with 429.
var ErrRateLimited = errors.New("rate limited")

// StatusError is a non-2xx response the client has no better classification for.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

// Client calls the planner HTTP API on behalf of one user.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// New builds a client. A nil httpClient gets a 30 second timeout.
func New(baseURL, userID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), userID: userID, http: httpClient}
}

// StartJob submits a trip and returns the new job id.
func (c *Client) StartJob(ctx context.Context, input models.TripRequest) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs", input, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// GetStatus fetches the job view, skipping the first after progress entries.
func (c *Client) GetStatus(ctx context.Context, id string, after int) (models.JobView, error) {
	path := "/jobs/" + url.PathEscape(id)
	if after > 0 {
		path += "?after=" + strconv.Itoa(after)
	}
	var view models.JobView
	err := c.do(ctx, http.MethodGet, path, nil, &view)
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.JobView{}, apperrors.NotFound("job", id)
	}
	return view, err
}

// ListItineraries returns the user's saved itineraries, newest first.
func (c *Client) ListItineraries(ctx context.Context, userID string, limit int) ([]models.Itinerary, error) {
	path := "/users/" + url.PathEscape(userID) + "/itineraries"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Items []models.Itinerary `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return apperrors.Validation(body.Field, body.Error)
	case http.StatusNotFound:
		return &apperrors.Error{Sentinel: apperrors.ErrNotFound, Message: body.Error}
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &StatusError{Code: resp.StatusCode, Message: body.Error}
	}
}
