package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/lifecycle"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/queue"
	"itinerary-planner/internal/telemetry"
)

// LeaseExpiredReason is recorded on jobs whose worker stopped heartbeating.
const LeaseExpiredReason = "worker lease expired"

// QueueLauncher launches jobs by pushing their id onto the Redis queue. The input is not
// queued; processors read it back from the job record.
type QueueLauncher struct {
	queue *queue.RedisQueue
}

func NewQueueLauncher(q *queue.RedisQueue) *QueueLauncher {
	return &QueueLauncher{queue: q}
}

func (l *QueueLauncher) Launch(ctx context.Context, jobID string, _ models.TripRequest) error {
	return l.queue.Enqueue(ctx, jobID)
}

// ProcessorConfig tunes the worker loop.
type ProcessorConfig struct {
	WorkerID     string
	PollInterval time.Duration
	ReclaimBatch int64
}

// Processor drives the out-of-process worker loop: reclaim dead leases, lease the next job,
// heartbeat while it runs, ack when done.
type Processor struct {
	cfg    ProcessorConfig
	queue  *queue.RedisQueue
	jobs   *lifecycle.Manager
	runner *Runner
	log    zerolog.Logger
}

func NewProcessor(cfg ProcessorConfig, q *queue.RedisQueue, jobs *lifecycle.Manager, runner *Runner, log zerolog.Logger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReclaimBatch <= 0 {
		cfg.ReclaimBatch = 100
	}
	return &Processor{
		cfg:    cfg,
		queue:  q,
		jobs:   jobs,
		runner: runner,
		log:    log.With().Str("component", "processor").Str("worker_id", cfg.WorkerID).Logger(),
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.reclaim(ctx)
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		handled, err := p.ProcessOne(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("dequeue failed")
		}
		if !handled {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.PollInterval):
			}
		}
	}
}

// ProcessOne leases and runs a single job. It reports false when the queue was empty.
func (p *Processor) ProcessOne(ctx context.Context) (bool, error) {
	jobID, err := p.queue.DequeueWithLease(ctx, p.cfg.WorkerID)
	if err != nil {
		return false, err
	}
	if jobID == "" {
		return false, nil
	}
	logger := p.log.With().Str("job_id", jobID).Logger()

	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		logger.Warn().Err(err).Msg("leased job unreadable, dropping")
		_ = p.queue.Ack(ctx, jobID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return true, nil
		}
		writeCtx := context.WithoutCancel(ctx)
		if _, ferr := p.jobs.Fail(writeCtx, jobID, "job record unreadable: "+err.Error()); ferr != nil && !errors.Is(ferr, apperrors.ErrInvalidTransition) {
			logger.Error().Err(ferr).Msg("could not fail unreadable job")
		}
		_ = p.queue.DLQPush(writeCtx, jobID)
		telemetry.JobsDeadLettered.Inc()
		return true, nil
	}
	if job.Status != models.StatusPending {
		logger.Info().Str("status", string(job.Status)).Msg("job already handled, skipping")
		_ = p.queue.Ack(ctx, jobID)
		return true, nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		p.heartbeat(jobCtx, cancel, jobID)
	}()

	runErr := p.runner.Run(jobCtx, jobID, job.Input)
	cancel()
	<-heartbeatDone

	if err := p.queue.Ack(context.WithoutCancel(ctx), jobID); err != nil {
		logger.Warn().Err(err).Msg("ack failed")
	}
	if runErr != nil && !errors.Is(runErr, apperrors.ErrInvalidTransition) {
		logger.Error().Err(runErr).Msg("job outcome not recorded, dead-lettering")
		_ = p.queue.DLQPush(context.WithoutCancel(ctx), jobID)
		telemetry.JobsDeadLettered.Inc()
	}
	return true, nil
}

// heartbeat extends the lease at a third of the visibility window. Losing the lease means
// another worker already failed the job, so the local run is cancelled.
func (p *Processor) heartbeat(ctx context.Context, cancel context.CancelFunc, jobID string) {
	visibility := p.queue.Visibility()
	ticker := time.NewTicker(visibility / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.queue.ExtendLease(ctx, jobID, visibility)
			if errors.Is(err, queue.ErrLeaseLost) {
				p.log.Warn().Str("job_id", jobID).Msg("lease lost, abandoning job")
				cancel()
				return
			}
			if err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Str("job_id", jobID).Msg("lease extension failed")
			}
		}
	}
}

// reclaim fails jobs whose lease ran out so they never stay RUNNING forever.
func (p *Processor) reclaim(ctx context.Context) {
	expired, err := p.queue.ReclaimExpired(ctx, time.Now(), p.cfg.ReclaimBatch)
	if err != nil {
		p.log.Warn().Err(err).Msg("reclaim failed")
		return
	}
	for _, e := range expired {
		telemetry.LeaseReclaims.Inc()
		logger := p.log.With().Str("job_id", e.JobID).Str("lease_owner", e.WorkerID).Logger()
		_, err := p.jobs.Fail(ctx, e.JobID, LeaseExpiredReason)
		switch {
		case err == nil:
			logger.Warn().Msg("lease expired, job failed")
		case errors.Is(err, apperrors.ErrInvalidTransition):
			logger.Info().Msg("lease expired after job finished")
			continue
		default:
			logger.Error().Err(err).Msg("could not fail expired job")
		}
		_ = p.queue.DLQPush(ctx, e.JobID)
		telemetry.JobsDeadLettered.Inc()
	}
}

var _ Launcher = (*QueueLauncher)(nil)
