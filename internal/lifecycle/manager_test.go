package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/retry"
	"itinerary-planner/internal/store"
)

func newManager(t *testing.T, opts ...Option) (*Manager, store.Store) {
	t.Helper()
	st := store.NewMemory()
	opts = append([]Option{WithReadRetry(retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond})}, opts...)
	return New(st, zerolog.Nop(), opts...), st
}

func lisbon() models.TripRequest {
	return models.TripRequest{Destination: "Lisbon", Days: 3}
}

func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.NotEmpty(t, job.ID)

	job, err = m.Start(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	require.NoError(t, m.AppendProgress(ctx, job.ID, "searching attractions"))
	require.NoError(t, m.AppendProgress(ctx, job.ID, "drafting day 1"))

	job, err = m.Succeed(ctx, job.ID, models.Result{Message: "3-day Lisbon plan", ItineraryID: "it-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, job.Status)
	require.NotNil(t, job.CompletedAt)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Progress, 2)
	assert.Equal(t, "searching attractions", got.Progress[0].Message)
	assert.Equal(t, "drafting day 1", got.Progress[1].Message)
	require.NotNil(t, got.Result)
	assert.Equal(t, "it-1", got.Result.ItineraryID)
	assert.Empty(t, got.Error)
}

func TestCreateAssignsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		job, err := m.Create(ctx, "u-1", lisbon())
		require.NoError(t, err)
		assert.False(t, seen[job.ID], "duplicate id %s", job.ID)
		seen[job.ID] = true
	}
}

func TestStartOnlyOnce(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)

	_, err = m.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = m.Start(ctx, job.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestSucceedRequiresRunning(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)

	_, err = m.Succeed(ctx, job.ID, models.Result{Message: "early"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.Result)
}

func TestFailFromPending(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)

	job, err = m.Fail(ctx, job.ID, "could not launch")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, "could not launch", job.Error)

	_, err = m.Start(ctx, job.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestFailWithoutReason(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)

	job, err = m.Fail(ctx, job.ID, "   ")
	require.NoError(t, err)
	assert.Equal(t, defaultFailure, job.Error)
}

func TestTerminalOutcomeIsFinal(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)
	_, err = m.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = m.Fail(ctx, job.ID, "upstream timeout")
	require.NoError(t, err)

	_, err = m.Succeed(ctx, job.ID, models.Result{Message: "late"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = m.Fail(ctx, job.ID, "again")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "upstream timeout", got.Error)
	assert.Nil(t, got.Result)
}

func TestAppendAfterTerminal(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)
	_, err = m.Start(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, m.AppendProgress(ctx, job.ID, "one"))
	_, err = m.Succeed(ctx, job.ID, models.Result{Message: "ok"})
	require.NoError(t, err)

	err = m.AppendProgress(ctx, job.ID, "straggler")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	err = m.AppendProgress(ctx, job.ID, "   ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState, "blank lines are rejected once terminal too")

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, got.Progress, 1)
}

func TestAppendNormalizesText(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)

	require.NoError(t, m.AppendProgress(ctx, job.ID, "   "))
	require.NoError(t, m.AppendProgress(ctx, job.ID, "  padded  "))
	require.NoError(t, m.AppendProgress(ctx, job.ID, strings.Repeat("é", 700)))

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Progress, 2)
	assert.Equal(t, "padded", got.Progress[0].Message)
	assert.Equal(t, strings.Repeat("é", MaxProgressLen)+" ...", got.Progress[1].Message)
}

func TestSucceedCapsMessage(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)
	_, err = m.Start(ctx, job.ID)
	require.NoError(t, err)

	job, err = m.Succeed(ctx, job.ID, models.Result{Message: strings.Repeat("x", MaxResultMessage+10)})
	require.NoError(t, err)
	assert.Len(t, job.Result.Message, MaxResultMessage)
}

func TestAppendUnknownJob(t *testing.T) {
	m, _ := newManager(t)
	err := m.AppendProgress(context.Background(), "nope", "hello")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	err = m.AppendProgress(context.Background(), "nope", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRacingTerminalTransitions(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	for i := 0; i < 50; i++ {
		job, err := m.Create(ctx, "u-1", lisbon())
		require.NoError(t, err)
		_, err = m.Start(ctx, job.ID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var succeedErr, failErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, succeedErr = m.Succeed(ctx, job.ID, models.Result{Message: "done"})
		}()
		go func() {
			defer wg.Done()
			_, failErr = m.Fail(ctx, job.ID, "crashed")
		}()
		wg.Wait()

		got, err := m.Get(ctx, job.ID)
		require.NoError(t, err)
		switch {
		case succeedErr == nil:
			assert.ErrorIs(t, failErr, apperrors.ErrInvalidTransition)
			assert.Equal(t, models.StatusSucceeded, got.Status)
			assert.Empty(t, got.Error)
		case failErr == nil:
			assert.ErrorIs(t, succeedErr, apperrors.ErrInvalidTransition)
			assert.Equal(t, models.StatusFailed, got.Status)
			assert.Nil(t, got.Result)
		default:
			t.Fatalf("both transitions failed: %v / %v", succeedErr, failErr)
		}
	}
}

func TestConcurrentAppendsKeepEveryLine(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)
	_, err = m.Start(ctx, job.ID)
	require.NoError(t, err)

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, m.AppendProgress(ctx, job.ID, fmt.Sprintf("w%d-%03d", w, i)))
			}
		}(w)
	}
	wg.Wait()

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Progress, writers*perWriter)

	last := map[string]string{}
	for _, e := range got.Progress {
		writer := strings.SplitN(e.Message, "-", 2)[0]
		assert.Less(t, last[writer], e.Message, "lines of %s out of order", writer)
		last[writer] = e.Message
	}
}

func TestReadsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Start(ctx, job.ID)
		for i := 0; i < 100; i++ {
			_ = m.AppendProgress(ctx, job.ID, fmt.Sprintf("step %d", i))
		}
		_, _ = m.Succeed(ctx, job.ID, models.Result{Message: "ok"})
	}()

	var lastRank, lastLen int
	var lastUpdated time.Time
	for {
		got, err := m.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.Status.Rank(), lastRank)
		assert.GreaterOrEqual(t, len(got.Progress), lastLen)
		assert.False(t, got.UpdatedAt.Before(lastUpdated))
		lastRank, lastLen, lastUpdated = got.Status.Rank(), len(got.Progress), got.UpdatedAt
		if got.Status.Terminal() {
			break
		}
	}
	<-done
	assert.Equal(t, 100, lastLen)
}

type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) Get(ctx context.Context, id string) (models.Job, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return models.Job{}, errors.New("throttled")
	}
	return f.Store.Get(ctx, id)
}

func TestGetRetriesTransientFaults(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: store.NewMemory(), failures: 2}
	m := New(flaky, zerolog.Nop(), WithReadRetry(retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond}))

	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 3, flaky.calls)
}

func TestGetSurfacesPersistentFaults(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: store.NewMemory(), failures: 10}
	m := New(flaky, zerolog.Nop(), WithReadRetry(retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond}))

	_, err := m.Get(ctx, "any")
	assert.EqualError(t, err, "throttled")
	assert.Equal(t, 3, flaky.calls)
}

func TestGetDoesNotRetryNotFound(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemory()}
	m := New(flaky, zerolog.Nop())

	_, err := m.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 1, flaky.calls)
}

func TestClockOption(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 12, 14, 9, 0, 0, 0, time.UTC)
	m, _ := newManager(t, WithClock(func() time.Time { return fixed }))
	job, err := m.Create(ctx, "u-1", lisbon())
	require.NoError(t, err)
	require.NoError(t, m.AppendProgress(ctx, job.ID, "tick"))

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Progress[0].At.Equal(fixed))
}
