package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinerary-planner/internal/lifecycle"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/planner"
	"itinerary-planner/internal/testutil"
)

func status(t *testing.T, jobs *lifecycle.Manager, id string) models.Status {
	t.Helper()
	job, err := jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job.Status
}

func TestPoolRunsJobs(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	p := planner.PlannerFunc(func(context.Context, planner.Request, planner.ProgressFunc) (models.Result, error) {
		return models.Result{Message: "ok"}, nil
	})
	pool := NewPool(NewRunner(jobs, p, 0, zerolog.Nop()), PoolConfig{Workers: 2, BufferSize: 4}, zerolog.Nop())
	defer pool.Close(ctx)

	job := createJob(t, jobs)
	require.NoError(t, pool.Launch(ctx, job.ID, job.Input))
	testutil.WaitFor(t, time.Second, func() bool {
		return status(t, jobs, job.ID) == models.StatusSucceeded
	}, "job to succeed")
}

func TestPoolFullAndClose(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	release := make(chan struct{})
	p := planner.PlannerFunc(func(ctx context.Context, _ planner.Request, _ planner.ProgressFunc) (models.Result, error) {
		select {
		case <-release:
			return models.Result{Message: "ok"}, nil
		case <-ctx.Done():
			return models.Result{}, ctx.Err()
		}
	})
	pool := NewPool(NewRunner(jobs, p, 0, zerolog.Nop()), PoolConfig{Workers: 1, BufferSize: 1}, zerolog.Nop())

	first, second, third := createJob(t, jobs), createJob(t, jobs), createJob(t, jobs)
	require.NoError(t, pool.Launch(ctx, first.ID, first.Input))
	testutil.WaitFor(t, time.Second, func() bool {
		return status(t, jobs, first.ID) == models.StatusRunning
	}, "first job to start")

	require.NoError(t, pool.Launch(ctx, second.ID, second.Input))
	assert.ErrorIs(t, pool.Launch(ctx, third.ID, third.Input), ErrPoolFull)
	assert.Equal(t, models.StatusPending, status(t, jobs, third.ID))

	close(release)
	require.NoError(t, pool.Close(ctx))
	assert.Equal(t, models.StatusSucceeded, status(t, jobs, first.ID))
	assert.Equal(t, models.StatusSucceeded, status(t, jobs, second.ID), "queued jobs drain on close")

	assert.ErrorIs(t, pool.Launch(ctx, third.ID, third.Input), ErrPoolClosed)
	assert.NoError(t, pool.Close(ctx), "close is idempotent")
}

func TestPoolCloseTimeoutCancelsRunningJobs(t *testing.T) {
	jobs := newJobs(t)
	p := planner.PlannerFunc(func(ctx context.Context, _ planner.Request, _ planner.ProgressFunc) (models.Result, error) {
		<-ctx.Done()
		return models.Result{}, ctx.Err()
	})
	pool := NewPool(NewRunner(jobs, p, 0, zerolog.Nop()), PoolConfig{Workers: 1, BufferSize: 1}, zerolog.Nop())

	job := createJob(t, jobs)
	require.NoError(t, pool.Launch(context.Background(), job.ID, job.Input))
	testutil.WaitFor(t, time.Second, func() bool {
		return status(t, jobs, job.ID) == models.StatusRunning
	}, "job to start")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Close(ctx), context.DeadlineExceeded)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "planner interrupted: worker shutting down", got.Error)
}
