package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"itinerary-planner/internal/api"
	"itinerary-planner/internal/app"
	"itinerary-planner/internal/config"
	"itinerary-planner/internal/logging"
	"itinerary-planner/internal/service"
	"itinerary-planner/internal/telemetry"
	"itinerary-planner/internal/worker"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logging.New("prod", "").Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	deps, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	var (
		launcher worker.Launcher
		dlq      api.DeadLetters
		pool     *worker.Pool
	)
	switch cfg.Executor {
	case "", "pool":
		pool = worker.NewPool(deps.Runner(), worker.PoolConfig{Workers: cfg.PoolWorkers, BufferSize: cfg.PoolBuffer}, log)
		launcher = pool
	case "redis":
		q := deps.Queue()
		launcher = worker.NewQueueLauncher(q)
		dlq = q
	default:
		return errors.New("unknown EXECUTOR " + cfg.Executor)
	}

	svc := service.New(deps.Jobs, launcher, deps.Itineraries, log)
	server := api.New(svc, deps.Limiter(), dlq, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Str("executor", cfg.Executor).Str("store", cfg.StoreBackend).
			Str("planner", cfg.Planner).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = metricsServer.Shutdown(shutdownCtx)
		if pool != nil {
			if err := pool.Close(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("pool did not drain")
			}
		}
		return nil
	})
	return g.Wait()
}
