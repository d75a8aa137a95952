package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"itinerary-planner/internal/app"
	"itinerary-planner/internal/config"
	"itinerary-planner/internal/logging"
	"itinerary-planner/internal/telemetry"
	"itinerary-planner/internal/worker"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logging.New("prod", "").Fatal().Err(err).Msg("load config")
	}
	// The worker only makes sense behind the Redis queue; app.Build also insists on a shared store.
	cfg.Executor = "redis"

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		if hostname, _ := os.Hostname(); hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}
	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	defer deps.Close()

	processor := worker.NewProcessor(worker.ProcessorConfig{
		WorkerID:     workerID,
		PollInterval: cfg.WorkerPollInterval,
	}, deps.Queue(), deps.Jobs, deps.Runner(), log)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().Str("worker_id", workerID).Dur("visibility", cfg.VisibilityTimeout).Str("planner", cfg.Planner).Msg("worker started")
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker stopped")
	}
}
