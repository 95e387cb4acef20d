package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// wakeQueueKey is the Redis list carrying job wake signals.
const wakeQueueKey = "ticketpress:jobs:wake"

// RedisQueueRepo implements the QueueRepository interface using a Redis
// list. It carries wake signals only: the database stays the source of
// truth, so a lost signal merely delays pickup to the worker poll interval.
type RedisQueueRepo struct {
	client redis.UniversalClient
}

// NewRedisQueueRepo creates a new RedisQueueRepo with the given Redis client.
func NewRedisQueueRepo(client redis.UniversalClient) *RedisQueueRepo {
	return &RedisQueueRepo{client: client}
}

// Enqueue publishes a wake signal for a queued job.
func (r *RedisQueueRepo) Enqueue(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id cannot be empty")
	}
	if err := r.client.LPush(ctx, wakeQueueKey, jobID).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until a wake signal arrives or the timeout elapses.
// Returns "" on timeout.
func (r *RedisQueueRepo) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = time.Second
	}

	result, err := r.client.BRPop(ctx, timeout, wakeQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis brpop: %w", err)
	}
	// BRPOP returns [key, value].
	if len(result) != 2 {
		return "", nil
	}
	return result[1], nil
}

// Available reports whether the Redis backend answers a ping.
func (r *RedisQueueRepo) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err() == nil
}
