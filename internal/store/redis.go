package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
)

// Redis keeps each job as a JSON document under prefix+id. Updates use WATCH/MULTI and retry
// when another writer touched the key in between.
type Redis struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
}

// NewRedis wraps an existing client. maxAttempts bounds the optimistic retry loop.
func NewRedis(client *redis.Client, prefix string, maxAttempts int) *Redis {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &Redis{client: client, prefix: prefix, maxAttempts: maxAttempts}
}

func (s *Redis) key(id string) string {
	return s.prefix + id
}

// Create stores the job only if the key is free.
func (s *Redis) Create(ctx context.Context, job models.Job) (models.Job, error) {
	job, err := prepareCreate(job, now())
	if err != nil {
		return models.Job{}, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return models.Job{}, apperrors.Internal("encode job", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(job.ID), data, 0).Result()
	if err != nil {
		return models.Job{}, fmt.Errorf("setnx job: %w", err)
	}
	if !ok {
		return models.Job{}, apperrors.AlreadyExists(resource, job.ID)
	}
	return job, nil
}

// Get loads and decodes a job.
func (s *Redis) Get(ctx context.Context, id string) (models.Job, error) {
	return s.load(ctx, s.client, id)
}

// Update applies fn under WATCH. A concurrent write aborts the transaction and fn runs again
// against the fresh record.
func (s *Redis) Update(ctx context.Context, id string, fn Mutation) (models.Job, error) {
	key := s.key(id)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		var result models.Job
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			next, changed, err := apply(current, fn, now())
			if err != nil {
				return err
			}
			if !changed {
				result = current
				return nil
			}
			data, err := json.Marshal(next)
			if err != nil {
				return apperrors.Internal("encode job", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			if err != nil {
				return err
			}
			result = next
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return models.Job{}, err
		}
		return result, nil
	}
	return models.Job{}, apperrors.Conflict(resource, id, "too many concurrent writers")
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Redis) load(ctx context.Context, c stringGetter, id string) (models.Job, error) {
	data, err := c.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Job{}, apperrors.NotFound(resource, id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return models.Job{}, apperrors.Internal("decode job", err)
	}
	if job.Progress == nil {
		job.Progress = []models.ProgressEntry{}
	}
	return job, nil
}

var _ Store = (*Redis)(nil)
