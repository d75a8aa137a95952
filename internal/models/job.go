package models

import (
	"time"
)

// Status enumerates job lifecycle states persisted in the job store.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Rank orders statuses along PENDING -> RUNNING -> terminal. Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// ProgressEntry is a single timestamped line in a job's progress log.
type ProgressEntry struct {
	At      time.Time `json:"at" dynamodbav:"at"`
	Message string    `json:"message" dynamodbav:"message"`
}

// Result is the payload recorded when a job succeeds.
type Result struct {
	Message     string `json:"message" dynamodbav:"message"`
	ItineraryID string `json:"itinerary_id,omitempty" dynamodbav:"itinerary_id,omitempty"`
	ArchiveURL  string `json:"archive_url,omitempty" dynamodbav:"archive_url,omitempty"`
}

// Job is the durable record of one planning request.
type Job struct {
	ID          string          `json:"job_id" dynamodbav:"job_id"`
	UserID      string          `json:"user_id" dynamodbav:"user_id"`
	Status      Status          `json:"status" dynamodbav:"status"`
	Input       TripRequest     `json:"input" dynamodbav:"input"`
	Progress    []ProgressEntry `json:"progress_log" dynamodbav:"progress_log"`
	Result      *Result         `json:"result,omitempty" dynamodbav:"result,omitempty"`
	Error       string          `json:"error,omitempty" dynamodbav:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" dynamodbav:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty" dynamodbav:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
	Version     int64           `json:"version" dynamodbav:"version"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (j Job) Clone() Job {
	out := j
	if j.Progress != nil {
		out.Progress = make([]ProgressEntry, len(j.Progress))
		copy(out.Progress, j.Progress)
	}
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// JobView is the projection served to pollers.
type JobView struct {
	ID            string          `json:"job_id"`
	Status        Status          `json:"status"`
	Progress      []ProgressEntry `json:"progress_log"`
	ProgressCount int             `json:"progress_count"`
	Result        *Result         `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// View projects a job. Entries before index after are omitted; ProgressCount is always the
// full log length so pollers can keep an absolute cursor.
func (j Job) View(after int) JobView {
	if after < 0 {
		after = 0
	}
	if after > len(j.Progress) {
		after = len(j.Progress)
	}
	progress := make([]ProgressEntry, len(j.Progress)-after)
	copy(progress, j.Progress[after:])

	v := JobView{
		ID:            j.ID,
		Status:        j.Status,
		Progress:      progress,
		ProgressCount: len(j.Progress),
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	if j.Status == StatusSucceeded && j.Result != nil {
		r := *j.Result
		v.Result = &r
	}
	if j.Status == StatusFailed {
		v.Error = j.Error
	}
	return v
}
