package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLeaseLost is returned by ExtendLease when the job is no longer leased, typically because
// another worker reclaimed it after the lease expired.
var ErrLeaseLost = errors.New("queue: lease lost")

// Options names the Redis keys used by a RedisQueue.
type Options struct {
	Name       string
	DLQName    string
	Visibility time.Duration
}

// RedisQueue hands job ids to workers. Ready ids sit in a list; a dequeued id moves into a
// sorted set scored by its lease deadline until it is acked or reclaimed.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	jobMetaPrefix string
	dlqKey        string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue on an existing client.
func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	if opts.Name == "" {
		opts.Name = "queue:plans"
	}
	if opts.DLQName == "" {
		opts.DLQName = opts.Name + ":dlq"
	}
	if opts.Visibility == 0 {
		opts.Visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		readyKey:      opts.Name + ":ready",
		inflightKey:   opts.Name + ":inflight",
		jobMetaPrefix: opts.Name + ":jobmeta:",
		dlqKey:        opts.DLQName,
		visibilityTTL: opts.Visibility,
	}
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// Visibility is the lease length granted by DequeueWithLease.
func (q *RedisQueue) Visibility() time.Duration {
	return q.visibilityTTL
}

// Enqueue appends a job id to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "enqueued_at", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.RPush(ctx, q.readyKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// DequeueWithLease pops the oldest ready job and places it into inflight with a visibility
// timeout. It returns "" when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context, workerID string) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli(), q.jobMetaPrefix, workerID,
	).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	n, err := extendScript.Run(ctx, q.client, []string{q.inflightKey},
		jobID, time.Now().Add(extension).UnixMilli()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Ack removes a job from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// Expired is a lease that ran out.
type Expired struct {
	JobID    string
	WorkerID string
}

// ReclaimExpired removes leases whose deadline passed. Each expired id is returned to exactly
// one caller even when several workers reclaim at once.
func (q *RedisQueue) ReclaimExpired(ctx context.Context, now time.Time, limit int64) ([]Expired, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	removed := make([]*redis.IntCmd, len(ids))
	owners := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		removed[i] = pipe.ZRem(ctx, q.inflightKey, id)
		owners[i] = pipe.HGet(ctx, q.metaKey(id), "worker")
		pipe.Del(ctx, q.metaKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var out []Expired
	for i, id := range ids {
		if removed[i].Val() != 1 {
			continue
		}
		out = append(out, Expired{JobID: id, WorkerID: owners[i].Val()})
	}
	return out, nil
}

// DLQPush appends to the dead-letter queue for operational inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.dlqKey, jobID).Err()
}

// DLQPeek reads the oldest dead-lettered job IDs.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InflightDepth returns the number of leased jobs.
func (q *RedisQueue) InflightDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if not job then
  return nil
end
redis.call('ZADD', KEYS[2], ARGV[1], job)
redis.call('HSET', ARGV[2] .. job, 'worker', ARGV[3])
return job
`)

var extendScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
  return 1
end
return 0
`)
