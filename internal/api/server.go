package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/ratelimit"
	"itinerary-planner/internal/service"
	"itinerary-planner/internal/telemetry"
	"itinerary-planner/internal/worker"
)

const anonymousUser = "anonymous"

// DeadLetters exposes the executor's dead-letter list, when it has one.
type DeadLetters interface {
	DLQPeek(ctx context.Context, count int64) ([]string, error)
}

// Server wires HTTP handlers for the planner API.
type Server struct {
	svc     *service.Service
	limiter ratelimit.Limiter
	dlq     DeadLetters
	log     zerolog.Logger
}

// New constructs the API server. limiter and dlq may be nil.
func New(svc *service.Service, limiter ratelimit.Limiter, dlq DeadLetters, log zerolog.Logger) *Server {
	return &Server{
		svc:     svc,
		limiter: limiter,
		dlq:     dlq,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		accessLog(s.log),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "Healthy"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleStartJob)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/users/{userID}/itineraries", s.handleListItineraries)
	r.Post("/invocations", s.handleInvocation)
	if s.dlq != nil {
		r.Get("/dlq", s.handleDLQ)
	}
	return r
}

type startResponse struct {
	JobID  string        `json:"job_id"`
	Status models.Status `json:"status"`
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req models.TripRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apperrors.Validation("body", "invalid json"))
		return
	}
	userID := userFromRequest(r)
	if !s.allow(w, r, userID) {
		return
	}
	job, err := s.svc.StartJob(r.Context(), userID, req)
	if err != nil {
		s.writeStartError(w, job, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	after := 0
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperrors.Validation("after", "after must be a non-negative integer"))
			return
		}
		after = n
	}
	view, err := s.svc.GetStatus(r.Context(), chi.URLParam(r, "id"), after)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListItineraries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, apperrors.Validation("limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}
	items, err := s.svc.ListItineraries(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleDLQ returns the DLQ contents (IDs only).
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.dlq.DLQPeek(r.Context(), 100)
	if err != nil {
		s.log.Error().Err(err).Msg("read dlq")
		writeError(w, apperrors.Internal("dlq.peek", err))
		return
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// allow applies the per-user token bucket. It writes the response and returns false when the
// request must stop here.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, userID string) bool {
	if s.limiter == nil {
		return true
	}
	d, err := s.limiter.Allow(r.Context(), "user:"+userID)
	if err != nil {
		s.log.Error().Err(err).Msg("rate limiter unavailable")
		writeError(w, apperrors.Internal("ratelimit", err))
		return false
	}
	if !d.Allowed {
		telemetry.RateLimitRejects.Inc()
		if d.RetryAfter > 0 && d.RetryAfter < 24*time.Hour {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
		}
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited"})
		return false
	}
	return true
}

func (s *Server) writeStartError(w http.ResponseWriter, job models.Job, err error) {
	if job.ID == "" {
		writeError(w, err)
		return
	}
	// The job exists but could not be launched; it is already FAILED.
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), JobID: job.ID})
}

func userFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-User-ID")); v != "" {
		return v
	}
	return anonymousUser
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	JobID string `json:"job_id,omitempty"`
}

func statusFor(err error) int {
	if errors.Is(err, worker.ErrPoolFull) || errors.Is(err, worker.ErrPoolClosed) {
		return http.StatusServiceUnavailable
	}
	return apperrors.HTTPStatus(err)
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body.Field = appErr.Field
	}
	writeJSON(w, statusFor(err), body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
