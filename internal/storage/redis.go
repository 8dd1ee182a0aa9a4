package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix = "pushsdk:kv:"
	redisLogPrefix = "pushsdk:log:"
)

// Redis is a Store backed by a Redis server, letting separate page and worker
// processes share one state namespace.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client. The caller owns connectivity checks.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	raw, err := r.client.Keys(ctx, redisKeyPrefix+prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys %s: %w", prefix, err)
	}
	keys := make([]string, 0, len(raw))
	for _, key := range raw {
		keys = append(keys, strings.TrimPrefix(key, redisKeyPrefix))
	}
	return keys, nil
}

func (r *Redis) Append(ctx context.Context, log string, entry []byte) error {
	if err := r.client.RPush(ctx, redisLogPrefix+log, entry).Err(); err != nil {
		return fmt.Errorf("redis append %s: %w", log, err)
	}
	return nil
}

func (r *Redis) Entries(ctx context.Context, log string, limit int) ([][]byte, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := r.client.LRange(ctx, redisLogPrefix+log, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis entries %s: %w", log, err)
	}
	entries := make([][]byte, len(raw))
	for i, item := range raw {
		entries[i] = []byte(item)
	}
	return entries, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
