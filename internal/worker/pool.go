package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"itinerary-planner/internal/models"
)

// PoolConfig sizes an in-process pool.
type PoolConfig struct {
	Workers    int
	BufferSize int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}

type task struct {
	jobID string
	input models.TripRequest
}

// Pool runs jobs on a fixed set of goroutines fed by a bounded channel. Launch never blocks:
// when the buffer is full the job is refused with ErrPoolFull.
type Pool struct {
	runner *Runner
	queue  chan task
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   atomic.Bool
	shutdown chan struct{}
}

// NewPool starts the workers.
func NewPool(runner *Runner, cfg PoolConfig, log zerolog.Logger) *Pool {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		runner:   runner,
		queue:    make(chan task, cfg.BufferSize),
		log:      log.With().Str("component", "pool").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	p.log.Info().Int("workers", cfg.Workers).Int("buffer", cfg.BufferSize).Msg("pool started")
	return p
}

// Launch hands the job to a worker goroutine.
func (p *Pool) Launch(_ context.Context, jobID string, input models.TripRequest) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task{jobID: jobID, input: input}:
		return nil
	default:
		p.log.Warn().Str("job_id", jobID).Msg("job refused, pool buffer full")
		return ErrPoolFull
	}
}

// Close stops accepting jobs and waits for queued and running ones to finish. If ctx ends
// first, running planners are cancelled and ctx.Err is returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.shutdown)
	p.mu.Unlock()

	p.log.Info().Int("queued", len(p.queue)).Msg("pool shutting down")
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info().Msg("pool shutdown complete")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.log.Warn().Msg("pool shutdown timed out, running jobs cancelled")
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			p.drain()
			return
		case t := <-p.queue:
			p.run(t)
		}
	}
}

func (p *Pool) drain() {
	for {
		select {
		case t := <-p.queue:
			p.run(t)
		default:
			return
		}
	}
}

func (p *Pool) run(t task) {
	if err := p.runner.Run(p.ctx, t.jobID, t.input); err != nil {
		p.log.Error().Err(err).Str("job_id", t.jobID).Msg("job run failed")
	}
}

var _ Launcher = (*Pool)(nil)
