// Package storetest holds the behavioural checks every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite against the backend produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"CreateRequiresID", testCreateRequiresID},
		{"GetMissing", testGetMissing},
		{"UpdateMissing", testUpdateMissing},
		{"UpdateAdvancesVersion", testUpdateAdvancesVersion},
		{"NoopUpdate", testNoopUpdate},
		{"MutationError", testMutationError},
		{"TerminalIsFinal", testTerminalIsFinal},
		{"StatusNeverMovesBack", testStatusNeverMovesBack},
		{"ProgressAppendOnly", testProgressAppendOnly},
		{"ConcurrentAppends", testConcurrentAppends},
		{"RacingTerminalWrites", testRacingTerminalWrites},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func newJob() models.Job {
	return models.Job{
		ID:     uuid.NewString(),
		UserID: "user-1",
		Input:  models.TripRequest{Destination: "Lisbon", Days: 3, Preferences: "food"},
	}
}

func appendLine(msg string) store.Mutation {
	return func(j *models.Job) error {
		j.Progress = append(j.Progress, models.ProgressEntry{At: time.Now().UTC().Truncate(time.Microsecond), Message: msg})
		return nil
	}
}

func setStatus(to models.Status) store.Mutation {
	return func(j *models.Job) error {
		j.Status = to
		return nil
	}
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newJob())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "Lisbon", got.Input.Destination)
	assert.Equal(t, 3, got.Input.Days)
	assert.Empty(t, got.Progress)
	assert.Nil(t, got.Result)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob()
	_, err := s.Create(ctx, job)
	require.NoError(t, err)

	job.UserID = "someone-else"
	_, err = s.Create(ctx, job)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}

func testCreateRequiresID(t *testing.T, s store.Store) {
	_, err := s.Create(context.Background(), models.Job{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func testUpdateMissing(t *testing.T, s store.Store) {
	_, err := s.Update(context.Background(), "missing", appendLine("x"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func testUpdateAdvancesVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newJob())
	require.NoError(t, err)

	updated, err := s.Update(ctx, created.ID, setStatus(models.StatusRunning))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, updated.Status)
	assert.Equal(t, created.Version+1, updated.Version)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, got.Version)
	assert.True(t, updated.UpdatedAt.Equal(got.UpdatedAt))
}

func testNoopUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newJob())
	require.NoError(t, err)

	same, err := s.Update(ctx, created.ID, func(*models.Job) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, created.Version, same.Version)
}

func testMutationError(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newJob())
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Update(ctx, created.ID, func(j *models.Job) error {
		j.Status = models.StatusRunning
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func testTerminalIsFinal(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newJob())
	require.NoError(t, err)
	_, err = s.Update(ctx, created.ID, func(j *models.Job) error {
		j.Status = models.StatusSucceeded
		j.Result = &models.Result{Message: "done"}
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, setStatus(models.StatusFailed))
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	_, err = s.Update(ctx, created.ID, appendLine("late"))
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "done", got.Result.Message)
	assert.Empty(t, got.Progress)
}

func testStatusNeverMovesBack(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newJob())
	require.NoError(t, err)
	_, err = s.Update(ctx, created.ID, setStatus(models.StatusRunning))
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, setStatus(models.StatusPending))
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	_, err = s.Update(ctx, created.ID, setStatus("DONE"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func testProgressAppendOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newJob())
	require.NoError(t, err)
	_, err = s.Update(ctx, created.ID, appendLine("first"))
	require.NoError(t, err)
	_, err = s.Update(ctx, created.ID, appendLine("second"))
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, func(j *models.Job) error {
		j.Progress = j.Progress[:1]
		return nil
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	_, err = s.Update(ctx, created.ID, func(j *models.Job) error {
		j.Progress[0].Message = "rewritten"
		return nil
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Progress, 2)
	assert.Equal(t, "first", got.Progress[0].Message)
	assert.Equal(t, "second", got.Progress[1].Message)
}

// updateWithRetry retries lost optimistic races so the test measures lost writes, not contention.
func updateWithRetry(ctx context.Context, s store.Store, id string, fn store.Mutation) error {
	var err error
	for i := 0; i < 50; i++ {
		if _, err = s.Update(ctx, id, fn); !errors.Is(err, apperrors.ErrConflict) {
			return err
		}
	}
	return err
}

func testConcurrentAppends(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newJob())
	require.NoError(t, err)

	const writers = 12
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- updateWithRetry(ctx, s, created.ID, appendLine(fmt.Sprintf("line %d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, got.Progress, writers)
	assert.Equal(t, created.Version+writers, got.Version)
}

func testRacingTerminalWrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newJob())
	require.NoError(t, err)

	errAlreadyTerminal := errors.New("already terminal")
	finish := func(to models.Status) store.Mutation {
		return func(j *models.Job) error {
			if j.Status.Terminal() {
				return errAlreadyTerminal
			}
			j.Status = to
			return nil
		}
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, to := range []models.Status{models.StatusSucceeded, models.StatusFailed} {
		wg.Add(1)
		go func(to models.Status) {
			defer wg.Done()
			results <- updateWithRetry(ctx, s, created.ID, finish(to))
		}(to)
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, errAlreadyTerminal):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
}
