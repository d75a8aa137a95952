package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/lifecycle"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/planner"
	"itinerary-planner/internal/queue"
	"itinerary-planner/internal/retry"
	"itinerary-planner/internal/store"
	"itinerary-planner/internal/telemetry"
)

func newRedisQueue(t *testing.T, visibility time.Duration) *queue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewRedisQueue(client, queue.Options{Name: "queue:plans", Visibility: visibility})
}

func newProcessor(q *queue.RedisQueue, jobs *lifecycle.Manager, p planner.Planner) *Processor {
	runner := NewRunner(jobs, p, 0, zerolog.Nop())
	return NewProcessor(ProcessorConfig{WorkerID: "w1", PollInterval: 10 * time.Millisecond}, q, jobs, runner, zerolog.Nop())
}

func TestProcessorRunsQueuedJob(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t, time.Minute)
	jobs := newJobs(t)
	p := planner.PlannerFunc(func(ctx context.Context, req planner.Request, progress planner.ProgressFunc) (models.Result, error) {
		assert.Equal(t, "Lisbon", req.Trip.Destination)
		_ = progress(ctx, "drafting day 1")
		return models.Result{Message: "ok"}, nil
	})
	proc := newProcessor(q, jobs, p)

	job := createJob(t, jobs)
	require.NoError(t, NewQueueLauncher(q).Launch(ctx, job.ID, job.Input))

	handled, err := proc.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, got.Status)
	assert.Len(t, got.Progress, 1)

	inflight, err := q.InflightDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)

	handled, err = proc.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, handled, "queue drained")
}

func TestProcessorSkipsFinishedJob(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t, time.Minute)
	jobs := newJobs(t)
	called := false
	proc := newProcessor(q, jobs, planner.PlannerFunc(func(context.Context, planner.Request, planner.ProgressFunc) (models.Result, error) {
		called = true
		return models.Result{}, nil
	}))

	job := createJob(t, jobs)
	_, err := jobs.Fail(ctx, job.ID, "launch failed")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, job.ID))

	handled, err := proc.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.False(t, called)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

// unreadableStore fails every read while writes still reach the backing store.
type unreadableStore struct {
	store.Store
}

func (unreadableStore) Get(context.Context, string) (models.Job, error) {
	return models.Job{}, errors.New("read replica down")
}

func TestProcessorFailsUnreadableJob(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t, time.Minute)
	backing := store.NewMemory()
	jobs := lifecycle.New(unreadableStore{backing}, zerolog.Nop(),
		lifecycle.WithReadRetry(retry.Policy{Attempts: 1, Initial: time.Millisecond, Max: time.Millisecond}))
	called := false
	proc := newProcessor(q, jobs, planner.PlannerFunc(func(context.Context, planner.Request, planner.ProgressFunc) (models.Result, error) {
		called = true
		return models.Result{}, nil
	}))

	job := createJob(t, jobs)
	require.NoError(t, q.Enqueue(ctx, job.ID))

	handled, err := proc.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.False(t, called)

	got, err := backing.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "read replica down")

	dlq, err := q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, dlq)
}

func TestProcessorDropsUnknownJob(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t, time.Minute)
	proc := newProcessor(q, newJobs(t), planner.PlannerFunc(func(context.Context, planner.Request, planner.ProgressFunc) (models.Result, error) {
		return models.Result{}, nil
	}))
	require.NoError(t, q.Enqueue(ctx, "no-such-job"))

	handled, err := proc.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	dlq, err := q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dlq)
	_, err = newJobs(t).Get(ctx, "no-such-job")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestProcessorReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t, 10*time.Millisecond)
	jobs := newJobs(t)
	proc := newProcessor(q, jobs, planner.PlannerFunc(func(context.Context, planner.Request, planner.ProgressFunc) (models.Result, error) {
		return models.Result{}, nil
	}))

	// A worker leases the job, starts it, and dies.
	job := createJob(t, jobs)
	require.NoError(t, q.Enqueue(ctx, job.ID))
	leased, err := q.DequeueWithLease(ctx, "dead-worker")
	require.NoError(t, err)
	require.Equal(t, job.ID, leased)
	_, err = jobs.Start(ctx, job.ID)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	inflight := promtestutil.ToFloat64(telemetry.InFlightGauge)
	proc.reclaim(ctx)
	assert.Equal(t, inflight, promtestutil.ToFloat64(telemetry.InFlightGauge), "the reclaiming worker never ran the job")

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, LeaseExpiredReason, got.Error)

	dlq, err := q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, dlq)
}

func TestProcessorHeartbeatKeepsLease(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t, 60*time.Millisecond)
	jobs := newJobs(t)
	proc := newProcessor(q, jobs, planner.PlannerFunc(func(ctx context.Context, _ planner.Request, _ planner.ProgressFunc) (models.Result, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return models.Result{Message: "slow but fine"}, nil
		case <-ctx.Done():
			return models.Result{}, ctx.Err()
		}
	}))

	job := createJob(t, jobs)
	require.NoError(t, q.Enqueue(ctx, job.ID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = proc.ProcessOne(ctx)
	}()

	// Another worker sweeping for dead leases while the job runs finds nothing.
	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		expired, err := q.ReclaimExpired(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, expired)
	}
	<-done

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, got.Status)
}

func TestProcessorRunStopsOnCancel(t *testing.T) {
	q := newRedisQueue(t, time.Minute)
	jobs := newJobs(t)
	proc := newProcessor(q, jobs, planner.PlannerFunc(func(context.Context, planner.Request, planner.ProgressFunc) (models.Result, error) {
		return models.Result{Message: "ok"}, nil
	}))

	job := createJob(t, jobs)
	require.NoError(t, q.Enqueue(context.Background(), job.ID))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- proc.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := jobs.Get(context.Background(), job.ID)
		return err == nil && got.Status == models.StatusSucceeded
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}
