package eventsink

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisBackend publishes sync outcome events via Pub/Sub, a list queue, or
// both.
type RedisBackend struct {
	client  *redis.Client
	channel string
	listKey string
}

func NewRedisBackend(addr, channel, listKey string) *RedisBackend {
	return &RedisBackend{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		listKey: listKey,
	}
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Publish(ctx context.Context, payload []byte) error {
	if r.channel != "" {
		if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
			return err
		}
	}
	if r.listKey != "" {
		if err := r.client.LPush(ctx, r.listKey, payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisBackend) Close() error { return r.client.Close() }
