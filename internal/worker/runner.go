package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/lifecycle"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/planner"
	"itinerary-planner/internal/telemetry"
)

// Runner executes one job end to end: RUNNING, planner call with progress, then exactly one
// terminal transition.
type Runner struct {
	jobs    *lifecycle.Manager
	planner planner.Planner
	timeout time.Duration
	log     zerolog.Logger
}

// NewRunner builds a runner. A zero timeout leaves the planner unbounded.
func NewRunner(jobs *lifecycle.Manager, p planner.Planner, timeout time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		jobs:    jobs,
		planner: p,
		timeout: timeout,
		log:     log.With().Str("component", "runner").Logger(),
	}
}

// Run drives the job. It returns an error only when the job record could not be moved to
// RUNNING or its outcome could not be recorded; planner failures end up in the record.
func (r *Runner) Run(ctx context.Context, jobID string, input models.TripRequest) error {
	logger := r.log.With().Str("job_id", jobID).Logger()

	// Outcomes are written even if the caller is shutting down.
	writeCtx := context.WithoutCancel(ctx)

	job, err := r.jobs.Start(ctx, jobID)
	if err != nil {
		logger.Warn().Err(err).Msg("job not started")
		if !errors.Is(err, apperrors.ErrInvalidTransition) && !errors.Is(err, apperrors.ErrNotFound) {
			if _, ferr := r.jobs.Fail(writeCtx, jobID, "could not start job: "+err.Error()); ferr != nil {
				logger.Error().Err(ferr).Msg("job left pending")
			}
		}
		return err
	}
	// Only the process running the planner counts it as in flight.
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	planCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		planCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	progress := func(_ context.Context, line string) error {
		err := r.jobs.AppendProgress(writeCtx, jobID, line)
		if err != nil {
			logger.Warn().Err(err).Msg("progress not recorded")
		}
		return err
	}

	start := time.Now()
	result, err := r.plan(planCtx, planner.Request{JobID: jobID, UserID: job.UserID, Trip: input}, progress)
	telemetry.PlanDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		reason := r.describe(planCtx, err)
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("planner failed")
		if _, ferr := r.jobs.Fail(writeCtx, jobID, reason); ferr != nil {
			return fmt.Errorf("record failure: %w", ferr)
		}
		return nil
	}

	if _, err := r.jobs.Succeed(writeCtx, jobID, result); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("planner finished")
	return nil
}

// plan calls the planner, converting a panic into an error.
func (r *Runner) plan(ctx context.Context, req planner.Request, progress planner.ProgressFunc) (result models.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("job_id", req.JobID).Bytes("stack", debug.Stack()).Msg("planner panicked")
			err = apperrors.Execution("plan", fmt.Errorf("planner panicked: %v", rec))
		}
	}()
	return r.planner.Plan(ctx, req, progress)
}

func (r *Runner) describe(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) && r.timeout > 0:
		return fmt.Sprintf("planner timed out after %s", r.timeout)
	case errors.Is(err, context.Canceled):
		return "planner interrupted: worker shutting down"
	default:
		return err.Error()
	}
}
