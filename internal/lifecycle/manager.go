// Package lifecycle owns every mutation of a job record. Executors report progress and
// outcomes through a Manager, which enforces the PENDING -> RUNNING -> SUCCEEDED|FAILED
// state machine on top of the per-id serialization the store provides.
package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/retry"
	"itinerary-planner/internal/store"
	"itinerary-planner/internal/telemetry"
)

const (
	// MaxProgressLen is the longest progress line kept verbatim.
	MaxProgressLen = 600
	// MaxResultMessage caps the stored final planner message.
	MaxResultMessage = 180_000

	defaultFailure = "planner failed without a reason"
)

// Manager applies lifecycle transitions to jobs held in a store.
type Manager struct {
	store     store.Store
	log       zerolog.Logger
	readRetry retry.Policy
	now       func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithReadRetry sets the policy used by Get for transient backend faults.
func WithReadRetry(p retry.Policy) Option {
	return func(m *Manager) { m.readRetry = p }
}

// WithClock overrides the clock used to stamp progress entries and transitions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(st store.Store, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		log:       log.With().Str("component", "lifecycle").Logger(),
		readRetry: retry.Policy{Attempts: 3, Initial: 100 * time.Millisecond, Max: 2 * time.Second},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new PENDING job under a fresh id.
func (m *Manager) Create(ctx context.Context, userID string, input models.TripRequest) (models.Job, error) {
	job, err := m.store.Create(ctx, models.Job{
		ID:     uuid.NewString(),
		UserID: userID,
		Status: models.StatusPending,
		Input:  input,
	})
	if err != nil {
		return models.Job{}, err
	}
	telemetry.JobsCreated.Inc()
	m.log.Info().Str("job_id", job.ID).Str("user_id", userID).Msg("job created")
	return job, nil
}

// Start moves a PENDING job to RUNNING. It succeeds at most once per job.
func (m *Manager) Start(ctx context.Context, id string) (models.Job, error) {
	job, err := m.store.Update(ctx, id, func(j *models.Job) error {
		if j.Status != models.StatusPending {
			return apperrors.InvalidTransition(id, string(j.Status), string(models.StatusRunning))
		}
		at := m.now()
		j.Status = models.StatusRunning
		j.StartedAt = &at
		return nil
	})
	if err != nil {
		return models.Job{}, m.rejected("start", id, err)
	}
	m.log.Info().Str("job_id", id).Msg("job running")
	return job, nil
}

// Succeed records the result of a RUNNING job. A job that already reached a terminal state
// keeps its first outcome and the caller gets apperrors.ErrInvalidTransition.
func (m *Manager) Succeed(ctx context.Context, id string, result models.Result) (models.Job, error) {
	result.Message = truncate(result.Message, MaxResultMessage)
	job, err := m.store.Update(ctx, id, func(j *models.Job) error {
		if j.Status != models.StatusRunning {
			return apperrors.InvalidTransition(id, string(j.Status), string(models.StatusSucceeded))
		}
		at := m.now()
		r := result
		j.Status = models.StatusSucceeded
		j.Result = &r
		j.Error = ""
		j.CompletedAt = &at
		return nil
	})
	if err != nil {
		return models.Job{}, m.rejected("succeed", id, err)
	}
	telemetry.JobsSucceeded.Inc()
	m.log.Info().Str("job_id", id).Str("itinerary_id", result.ItineraryID).Msg("job succeeded")
	return job, nil
}

// Fail records a failure for a PENDING or RUNNING job.
func (m *Manager) Fail(ctx context.Context, id, reason string) (models.Job, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultFailure
	}
	job, err := m.store.Update(ctx, id, func(j *models.Job) error {
		if j.Status.Terminal() {
			return apperrors.InvalidTransition(id, string(j.Status), string(models.StatusFailed))
		}
		at := m.now()
		j.Status = models.StatusFailed
		j.Error = reason
		j.Result = nil
		j.CompletedAt = &at
		return nil
	})
	if err != nil {
		return models.Job{}, m.rejected("fail", id, err)
	}
	telemetry.JobsFailed.Inc()
	m.log.Warn().Str("job_id", id).Str("reason", reason).Msg("job failed")
	return job, nil
}

// AppendProgress adds a timestamped line to the job's progress log. Blank lines are dropped
// and long lines are shortened to MaxProgressLen characters.
func (m *Manager) AppendProgress(ctx context.Context, id, text string) error {
	text = normalizeLine(text)
	_, err := m.store.Update(ctx, id, func(j *models.Job) error {
		if j.Status.Terminal() {
			return apperrors.InvalidState(id, string(j.Status), "append progress")
		}
		if text == "" {
			return nil
		}
		j.Progress = append(j.Progress, models.ProgressEntry{At: m.now(), Message: text})
		return nil
	})
	if err != nil {
		return m.rejected("append_progress", id, err)
	}
	return nil
}

// Get reads a job, retrying transient backend faults. Unknown ids are not retried.
func (m *Manager) Get(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := retry.Do(ctx, m.readRetry, retryableRead, func(ctx context.Context) error {
		var err error
		job, err = m.store.Get(ctx, id)
		if err != nil && retryableRead(err) {
			m.log.Debug().Err(err).Str("job_id", id).Msg("job read failed, retrying")
		}
		return err
	})
	if err != nil {
		return models.Job{}, err
	}
	return job, nil
}

func retryableRead(err error) bool {
	switch {
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (m *Manager) rejected(op, id string, err error) error {
	if errors.Is(err, apperrors.ErrInvalidTransition) || errors.Is(err, apperrors.ErrInvalidState) {
		telemetry.InvalidTransitions.WithLabelValues(op).Inc()
		m.log.Warn().Err(err).Str("job_id", id).Str("op", op).Msg("transition rejected")
	}
	return err
}

func normalizeLine(text string) string {
	text = strings.TrimSpace(text)
	if short := truncate(text, MaxProgressLen); short != text {
		return short + " ..."
	}
	return text
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
