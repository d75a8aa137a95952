package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinerary-planner/internal/itinerary"
	"itinerary-planner/internal/lifecycle"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/planner"
	"itinerary-planner/internal/ratelimit"
	"itinerary-planner/internal/service"
	"itinerary-planner/internal/store"
	"itinerary-planner/internal/testutil"
	"itinerary-planner/internal/worker"
)

type harness struct {
	srv  *httptest.Server
	jobs *lifecycle.Manager
	repo *itinerary.Memory
}

type launcherFunc func(ctx context.Context, jobID string, input models.TripRequest) error

func (f launcherFunc) Launch(ctx context.Context, jobID string, input models.TripRequest) error {
	return f(ctx, jobID, input)
}

type fakeDLQ struct {
	items []string
	err   error
}

func (f fakeDLQ) DLQPeek(context.Context, int64) ([]string, error) { return f.items, f.err }

// newHarness runs the API over the in-process pool and the demo planner unless a launcher is
// supplied.
func newHarness(t *testing.T, launcher worker.Launcher, limiter ratelimit.Limiter, dlq DeadLetters) *harness {
	t.Helper()
	jobs := lifecycle.New(store.NewMemory(), zerolog.Nop())
	repo := itinerary.NewMemory()
	if launcher == nil {
		demo := planner.NewDemo(repo, nil, time.Millisecond, zerolog.Nop())
		pool := worker.NewPool(worker.NewRunner(jobs, demo, time.Minute, zerolog.Nop()), worker.PoolConfig{Workers: 2, BufferSize: 8}, zerolog.Nop())
		t.Cleanup(func() { _ = pool.Close(context.Background()) })
		launcher = pool
	}
	svc := service.New(jobs, launcher, repo, zerolog.Nop())
	srv := httptest.NewServer(New(svc, limiter, dlq, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, jobs: jobs, repo: repo}
}

func (h *harness) do(t *testing.T, method, path, userID string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestStartAndPollJob(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	resp, body := h.do(t, http.MethodPost, "/jobs", "alice", map[string]any{"destination": "Lisbon", "days": 3})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "PENDING", body["status"])

	var view map[string]any
	testutil.WaitFor(t, 5*time.Second, func() bool {
		_, view = h.do(t, http.MethodGet, "/jobs/"+jobID, "", nil)
		return view["status"] == "SUCCEEDED" || view["status"] == "FAILED"
	}, "job to finish")

	assert.Equal(t, "SUCCEEDED", view["status"])
	assert.EqualValues(t, 5, view["progress_count"])
	result, ok := view["result"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, result["itinerary_id"])
	assert.Nil(t, view["error"])

	_, tail := h.do(t, http.MethodGet, "/jobs/"+jobID+"?after=3", "", nil)
	progress, ok := tail["progress_log"].([]any)
	require.True(t, ok)
	assert.Len(t, progress, 2)

	_, list := h.do(t, http.MethodGet, "/users/alice/itineraries?limit=5", "", nil)
	items, ok := list["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)
}

func TestStartJobDefaultsToAnonymous(t *testing.T) {
	h := newHarness(t, launcherFunc(func(context.Context, string, models.TripRequest) error { return nil }), nil, nil)

	resp, body := h.do(t, http.MethodPost, "/jobs", "", map[string]any{"destination": "Porto"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job, err := h.jobs.Get(context.Background(), body["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "anonymous", job.UserID)
}

func TestStartJobErrors(t *testing.T) {
	h := newHarness(t, launcherFunc(func(context.Context, string, models.TripRequest) error { return worker.ErrPoolFull }), nil, nil)

	resp, body := h.do(t, http.MethodPost, "/jobs", "alice", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "body", body["field"])

	resp, body = h.do(t, http.MethodPost, "/jobs", "alice", map[string]any{"days": 2})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "destination", body["field"])

	resp, body = h.do(t, http.MethodPost, "/jobs", "alice", map[string]any{"destination": "Lisbon"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	job, err := h.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
}

func TestGetJobErrors(t *testing.T) {
	h := newHarness(t, launcherFunc(func(context.Context, string, models.TripRequest) error { return nil }), nil, nil)

	resp, _ := h.do(t, http.MethodGet, "/jobs/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := h.do(t, http.MethodGet, "/jobs/x?after=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "after", body["field"])

	resp, _ = h.do(t, http.MethodGet, "/users/alice/itineraries?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := ratelimit.NewLocal(1, 0.01, time.Minute)
	h := newHarness(t, launcherFunc(func(context.Context, string, models.TripRequest) error { return nil }), limiter, nil)
	trip := map[string]any{"destination": "Lisbon"}

	resp, _ := h.do(t, http.MethodPost, "/jobs", "alice", trip)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, body := h.do(t, http.MethodPost, "/jobs", "alice", trip)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limited", body["error"])
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 100, retry, 1)

	resp, _ = h.do(t, http.MethodPost, "/jobs", "bob", trip)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestInvocations(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	resp, ack := h.do(t, http.MethodPost, "/invocations", "", map[string]any{
		"action":      "start",
		"userId":      "u-42",
		"requestId":   "req-9",
		"destination": "Kyoto, Japan",
		"startDate":   "2025-12-14",
		"endDate":     "2025-12-15",
		"preferences": "temples",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", ack["result"])
	assert.Equal(t, "u-42", ack["userId"])
	assert.Equal(t, "req-9", ack["requestId"])
	jobID, _ := ack["jobId"].(string)
	require.NotEmpty(t, jobID)

	var status map[string]any
	testutil.WaitFor(t, 5*time.Second, func() bool {
		_, out := h.do(t, http.MethodPost, "/invocations", "", map[string]any{"action": "status", "jobId": jobID})
		status, _ = out["job"].(map[string]any)
		return status != nil && status["status"] == "SUCCEEDED"
	}, "invocation to finish")

	assert.Equal(t, itinerary.StableID("", "", "", "", "req-9"), status["resultItineraryId"])
	assert.Contains(t, status["finalMessage"], "RESULT: saved:")
	progress, _ := status["progress"].([]any)
	require.NotEmpty(t, progress)
	first, _ := progress[0].(string)
	assert.True(t, strings.HasSuffix(first, "  searching attractions"), first)

	resp, _ = h.do(t, http.MethodPost, "/invocations", "", map[string]any{"action": "status", "jobId": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, body := h.do(t, http.MethodPost, "/invocations", "", map[string]any{"action": "cancel"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "action", body["field"])
}

func TestHealthAndDLQ(t *testing.T) {
	h := newHarness(t, launcherFunc(func(context.Context, string, models.TripRequest) error { return nil }), nil, fakeDLQ{items: []string{"job-1"}})

	resp, body := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = h.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/dlq", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"job-1"}, body["items"])

	broken := newHarness(t, launcherFunc(func(context.Context, string, models.TripRequest) error { return nil }), nil, fakeDLQ{err: errors.New("redis down")})
	resp, _ = broken.do(t, http.MethodGet, "/dlq", "", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	noDLQ := newHarness(t, launcherFunc(func(context.Context, string, models.TripRequest) error { return nil }), nil, nil)
	resp, _ = noDLQ.do(t, http.MethodGet, "/dlq", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, launcherFunc(func(context.Context, string, models.TripRequest) error { return nil }), nil, nil)
	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
