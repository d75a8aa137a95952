// Package store persists job records. Every backend serializes writes per job id so
// concurrent progress appends and racing terminal transitions cannot interleave.
package store

import (
	"context"
	"reflect"
	"time"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
)

// Mutation describes a change to a job. It receives a private copy of the current record;
// returning an error aborts the update and the error is returned to the caller unchanged.
// A mutation may run more than once on optimistic backends, so it must not have side effects.
type Mutation func(job *models.Job) error

// Store is the job store contract shared by all backends.
type Store interface {
	// Create inserts a new record. It fails with apperrors.ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, job models.Job) (models.Job, error)
	// Get returns the record or apperrors.ErrNotFound.
	Get(ctx context.Context, id string) (models.Job, error)
	// Update applies fn atomically with respect to other updates of the same id and
	// advances UpdatedAt and Version. It fails with apperrors.ErrNotFound if the record is
	// gone and apperrors.ErrConflict if fn would alter a record that is already terminal.
	Update(ctx context.Context, id string, fn Mutation) (models.Job, error)
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}

const resource = "job"

// now is truncated to microseconds, the coarsest precision among the backends.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// prepareCreate validates and stamps a new record.
func prepareCreate(job models.Job, at time.Time) (models.Job, error) {
	if job.ID == "" {
		return models.Job{}, apperrors.Validation("job_id", "job id is required")
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}
	if !job.Status.Valid() {
		return models.Job{}, apperrors.Validation("status", "unknown status "+string(job.Status))
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = at
	}
	job.UpdatedAt = job.CreatedAt
	if job.Progress == nil {
		job.Progress = []models.ProgressEntry{}
	}
	job.Version = 1
	return job, nil
}

// apply runs fn against a copy of current and checks the record invariants that hold for
// every backend. changed is false when fn left the record untouched, in which case nothing
// needs to be written.
func apply(current models.Job, fn Mutation, at time.Time) (next models.Job, changed bool, err error) {
	next = current.Clone()
	if err := fn(&next); err != nil {
		return models.Job{}, false, err
	}
	if reflect.DeepEqual(next, current) {
		return current, false, nil
	}

	id := current.ID
	switch {
	case next.ID != current.ID:
		return models.Job{}, false, apperrors.Conflict(resource, id, "job id is immutable")
	case current.Status.Terminal():
		return models.Job{}, false, apperrors.Conflict(resource, id, "terminal state "+string(current.Status)+" already recorded")
	case !next.Status.Valid():
		return models.Job{}, false, apperrors.Validation("status", "unknown status "+string(next.Status))
	case next.Status.Rank() < current.Status.Rank():
		return models.Job{}, false, apperrors.Conflict(resource, id, "status cannot move back to "+string(next.Status))
	case len(next.Progress) < len(current.Progress):
		return models.Job{}, false, apperrors.Conflict(resource, id, "progress log cannot shrink")
	}
	for i := range current.Progress {
		if next.Progress[i] != current.Progress[i] {
			return models.Job{}, false, apperrors.Conflict(resource, id, "progress log is append-only")
		}
	}

	if !at.After(current.UpdatedAt) {
		at = current.UpdatedAt.Add(time.Microsecond)
	}
	next.UpdatedAt = at
	next.Version = current.Version + 1
	return next, true, nil
}
