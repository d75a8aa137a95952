package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/lifecycle"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/planner"
	"itinerary-planner/internal/store"
	"itinerary-planner/internal/telemetry"
)

func newJobs(t *testing.T) *lifecycle.Manager {
	t.Helper()
	return lifecycle.New(store.NewMemory(), zerolog.Nop())
}

func createJob(t *testing.T, jobs *lifecycle.Manager) models.Job {
	t.Helper()
	job, err := jobs.Create(context.Background(), "u-1", models.TripRequest{Destination: "Lisbon", Days: 3})
	require.NoError(t, err)
	return job
}

func TestRunnerSuccess(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	job := createJob(t, jobs)

	p := planner.PlannerFunc(func(ctx context.Context, req planner.Request, progress planner.ProgressFunc) (models.Result, error) {
		assert.Equal(t, "u-1", req.UserID)
		assert.Equal(t, "Lisbon", req.Trip.Destination)
		_ = progress(ctx, "searching attractions")
		_ = progress(ctx, "drafting day 1")
		return models.Result{Message: "plan", ItineraryID: "it-1"}, nil
	})
	require.NoError(t, NewRunner(jobs, p, 0, zerolog.Nop()).Run(ctx, job.ID, job.Input))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, got.Status)
	require.Len(t, got.Progress, 2)
	assert.Equal(t, "it-1", got.Result.ItineraryID)
}

func TestRunnerTracksInFlight(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	job := createJob(t, jobs)
	before := promtestutil.ToFloat64(telemetry.InFlightGauge)

	var during float64
	p := planner.PlannerFunc(func(context.Context, planner.Request, planner.ProgressFunc) (models.Result, error) {
		during = promtestutil.ToFloat64(telemetry.InFlightGauge)
		return models.Result{}, errors.New("model throttled")
	})
	require.NoError(t, NewRunner(jobs, p, 0, zerolog.Nop()).Run(ctx, job.ID, job.Input))

	assert.Equal(t, before+1, during)
	assert.Equal(t, before, promtestutil.ToFloat64(telemetry.InFlightGauge))
}

func TestRunnerPlannerError(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	job := createJob(t, jobs)

	p := planner.PlannerFunc(func(ctx context.Context, _ planner.Request, progress planner.ProgressFunc) (models.Result, error) {
		_ = progress(ctx, "searching attractions")
		return models.Result{}, errors.New("model throttled")
	})
	require.NoError(t, NewRunner(jobs, p, 0, zerolog.Nop()).Run(ctx, job.ID, job.Input))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "model throttled", got.Error)
	assert.Len(t, got.Progress, 1)
	assert.Nil(t, got.Result)
}

func TestRunnerRecoversPanic(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	job := createJob(t, jobs)

	p := planner.PlannerFunc(func(context.Context, planner.Request, planner.ProgressFunc) (models.Result, error) {
		panic("nil map")
	})
	require.NoError(t, NewRunner(jobs, p, 0, zerolog.Nop()).Run(ctx, job.ID, job.Input))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "planner panicked: nil map")
}

func TestRunnerTimeout(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	job := createJob(t, jobs)

	p := planner.PlannerFunc(func(ctx context.Context, _ planner.Request, _ planner.ProgressFunc) (models.Result, error) {
		<-ctx.Done()
		return models.Result{}, ctx.Err()
	})
	require.NoError(t, NewRunner(jobs, p, 20*time.Millisecond, zerolog.Nop()).Run(ctx, job.ID, job.Input))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "planner timed out after 20ms", got.Error)
}

func TestRunnerSkipsJobAlreadyStarted(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	job := createJob(t, jobs)
	_, err := jobs.Start(ctx, job.ID)
	require.NoError(t, err)

	called := false
	p := planner.PlannerFunc(func(context.Context, planner.Request, planner.ProgressFunc) (models.Result, error) {
		called = true
		return models.Result{}, nil
	})
	err = NewRunner(jobs, p, 0, zerolog.Nop()).Run(ctx, job.ID, job.Input)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.False(t, called)
}
