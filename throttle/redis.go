package throttle

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps windows as expiring keys so they survive a restart.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ticketbot:throttle:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Acquire(ctx context.Context, key, holder string, _ time.Time, window time.Duration) (bool, string, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, holder, window).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, holder, nil
	}
	current, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as still held for this trigger.
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return false, current, nil
}

func (r *RedisStore) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Ping verifies redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
