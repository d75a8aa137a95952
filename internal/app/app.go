// Package app assembles the backends selected by config for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"itinerary-planner/internal/archive"
	"itinerary-planner/internal/awsutil"
	"itinerary-planner/internal/config"
	"itinerary-planner/internal/itinerary"
	"itinerary-planner/internal/lifecycle"
	"itinerary-planner/internal/planner"
	"itinerary-planner/internal/queue"
	"itinerary-planner/internal/ratelimit"
	"itinerary-planner/internal/retry"
	"itinerary-planner/internal/store"
	"itinerary-planner/internal/worker"
)

// Deps holds everything the API, the worker and the local CLI run on.
type Deps struct {
	Config      config.Config
	Log         zerolog.Logger
	Jobs        *lifecycle.Manager
	Itineraries itinerary.Repository
	Planner     planner.Planner
	// Redis is set when the store or the executor needs it.
	Redis *redis.Client

	closers []func() error
}

// Build connects the configured job store, itinerary repository, archive and planner.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Deps, error) {
	if cfg.Executor == "redis" && !sharedStore(cfg.StoreBackend) {
		return nil, fmt.Errorf("EXECUTOR=redis needs a store the workers can read; STORE_BACKEND %q is per process", cfg.StoreBackend)
	}
	d := &Deps{Config: cfg, Log: log}
	if cfg.StoreBackend == "redis" || cfg.Executor == "redis" {
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		d.closers = append(d.closers, d.Redis.Close)
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
	}

	var ddb *dynamodb.Client
	if cfg.StoreBackend == "dynamodb" {
		awsCfg, err := awsutil.Load(ctx, cfg.DynamoRegion)
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		ddb = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
	}

	st, err := d.jobStore(ctx, ddb)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.Jobs = lifecycle.New(st, log, lifecycle.WithReadRetry(retry.Policy{
		Attempts: cfg.ReadRetryAttempts,
		Initial:  cfg.ReadRetryInitial,
		Max:      cfg.ReadRetryMax,
	}))

	if ddb != nil {
		if cfg.DynamoEndpoint != "" {
			if err := store.EnsureDynamoTable(ctx, ddb, cfg.ItineraryTable, "userId", "itineraryId"); err != nil {
				_ = d.Close()
				return nil, err
			}
		}
		d.Itineraries = itinerary.NewDynamo(ddb, cfg.ItineraryTable)
	} else {
		d.Itineraries = itinerary.NewMemory()
	}

	archiver, err := archive.New(ctx, cfg)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.Planner, err = planner.New(ctx, cfg, d.Itineraries, archiver, log)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Deps) jobStore(ctx context.Context, ddb *dynamodb.Client) (store.Store, error) {
	cfg := d.Config
	switch cfg.StoreBackend {
	case "", "memory":
		return store.NewMemory(), nil
	case "redis":
		return store.NewRedis(d.Redis, cfg.JobKeyPrefix, cfg.StoreMaxCASAttempts), nil
	case "dynamodb":
		if cfg.DynamoEndpoint != "" {
			if err := store.EnsureDynamoTable(ctx, ddb, cfg.JobsTable, "job_id", ""); err != nil {
				return nil, err
			}
		}
		return store.NewDynamo(ddb, cfg.JobsTable, cfg.StoreMaxCASAttempts), nil
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pg.Close)
		if err := pg.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// Runner builds the job runner over the configured planner.
func (d *Deps) Runner() *worker.Runner {
	return worker.NewRunner(d.Jobs, d.Planner, d.Config.PlanTimeout, d.Log)
}

// Queue returns the Redis job queue. It is nil unless Redis is connected.
func (d *Deps) Queue() *queue.RedisQueue {
	if d.Redis == nil {
		return nil
	}
	return queue.NewRedisQueue(d.Redis, queue.Options{
		Name:       d.Config.QueueName,
		DLQName:    d.Config.DLQName,
		Visibility: d.Config.VisibilityTimeout,
	})
}

// Limiter shares the start budget across API replicas through Redis when it is available.
func (d *Deps) Limiter() ratelimit.Limiter {
	if d.Config.RateLimitCapacity <= 0 {
		return nil
	}
	if d.Redis != nil {
		return ratelimit.NewTokenBucket(d.Redis, d.Config.RateLimitCapacity, d.Config.RateLimitRefill, time.Hour)
	}
	return ratelimit.NewLocal(d.Config.RateLimitCapacity, d.Config.RateLimitRefill, time.Hour)
}

// Close releases connections in reverse order of acquisition.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// sharedStore reports whether the backend is visible to other processes.
func sharedStore(backend string) bool {
	switch backend {
	case "redis", "dynamodb", "postgres":
		return true
	}
	return false
}
