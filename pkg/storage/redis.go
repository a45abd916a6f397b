package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKeyValueHolder keeps values in a Redis server; keys are namespaced with `prefix`.
type RedisKeyValueHolder struct { // Implements KeyValueHolder.
	client *redis.Client
	prefix string
}

var _ KeyValueHolder = (*RedisKeyValueHolder)(nil)

// NewRedisKeyValueHolder wraps the given client. The client is owned by the holder and closed with it.
func NewRedisKeyValueHolder(client *redis.Client, prefix string) (*RedisKeyValueHolder, error) {
	if client == nil {
		return nil, errors.New("expected a non-nil redis client")
	}
	return &RedisKeyValueHolder{client: client, prefix: prefix}, nil
}

// DialRedisKeyValueHolder connects to the Redis server described by `options` and pings it.
func DialRedisKeyValueHolder(ctx context.Context, options *redis.Options, prefix string) (*RedisKeyValueHolder, error) {
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", options.Addr, err)
	}
	return NewRedisKeyValueHolder(client, prefix)
}

func (r *RedisKeyValueHolder) fullKey(key string) string {
	return r.prefix + key
}

func (r *RedisKeyValueHolder) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisKeyValueHolder) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.fullKey(key), value, 0 /*expiration*/).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (r *RedisKeyValueHolder) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (r *RedisKeyValueHolder) Close() error {
	return r.client.Close()
}
