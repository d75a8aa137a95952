package api

import (
	"net/http"
	"strings"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
)

// invocationRequest is the agent-runtime payload: one endpoint, switched on action.
type invocationRequest struct {
	Action      string `json:"action"`
	JobID       string `json:"jobId"`
	UserID      string `json:"userId"`
	RequestID   string `json:"requestId"`
	Prompt      string `json:"prompt"`
	Destination string `json:"destination"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Days        int    `json:"days"`
	Preferences string `json:"preferences"`
}

type invocationAck struct {
	Result    string `json:"result"`
	JobID     string `json:"jobId"`
	UserID    string `json:"userId"`
	RequestID string `json:"requestId,omitempty"`
}

type invocationJob struct {
	Status            models.Status `json:"status"`
	Progress          []string      `json:"progress"`
	FinalMessage      string        `json:"finalMessage,omitempty"`
	ResultItineraryID string        `json:"resultItineraryId,omitempty"`
	Error             string        `json:"error,omitempty"`
}

func (s *Server) handleInvocation(w http.ResponseWriter, r *http.Request) {
	var req invocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apperrors.Validation("body", "invalid json"))
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "start":
		s.invokeStart(w, r, req)
	case "status":
		s.invokeStatus(w, r, req)
	default:
		writeError(w, apperrors.Validation("action", `action must be "start" or "status"`))
	}
}

func (s *Server) invokeStart(w http.ResponseWriter, r *http.Request, req invocationRequest) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = userFromRequest(r)
	}
	if !s.allow(w, r, userID) {
		return
	}
	job, err := s.svc.StartJob(r.Context(), userID, models.TripRequest{
		RequestID:   req.RequestID,
		Destination: req.Destination,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Days:        req.Days,
		Preferences: req.Preferences,
		Prompt:      req.Prompt,
	})
	if err != nil {
		s.writeStartError(w, job, err)
		return
	}
	writeJSON(w, http.StatusOK, invocationAck{
		Result:    "accepted",
		JobID:     job.ID,
		UserID:    userID,
		RequestID: req.RequestID,
	})
}

func (s *Server) invokeStatus(w http.ResponseWriter, r *http.Request, req invocationRequest) {
	view, err := s.svc.GetStatus(r.Context(), strings.TrimSpace(req.JobID), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	job := invocationJob{
		Status:   view.Status,
		Progress: make([]string, 0, len(view.Progress)),
		Error:    view.Error,
	}
	for _, p := range view.Progress {
		job.Progress = append(job.Progress, p.At.UTC().Format("15:04:05")+"  "+p.Message)
	}
	if view.Result != nil {
		job.FinalMessage = view.Result.Message
		job.ResultItineraryID = view.Result.ItineraryID
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}
