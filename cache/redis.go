package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a Redis server. Per-key atomicity is delegated
// to the server; no local locking is performed. Network errors are reported
// to the caller, never retried here.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
}

// ensure that Redis implements the Cache interface
var _ Cache = (*Redis)(nil)

// NewRedis creates a Redis cache on top of an existing client.
//
// Supported options: WithKeyPrefix.
func NewRedis(client redis.UniversalClient, opt ...Option) (*Redis, error) {
	const op = "cache.NewRedis"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil", op)
	}
	opts := getOpts(opt...)
	prefix := opts.withKeyPrefix
	if prefix == "" {
		prefix = "rp:"
	}
	return &Redis{client: client, keyPrefix: prefix}, nil
}

func (r *Redis) key(key string) string { return r.keyPrefix + key }

// Get implements Cache.Get. Expiry is enforced by the server-side TTL set on
// write, so a present key is by definition live.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "Redis.Get"
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNoEntry
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Set implements Cache.Set.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "Redis.Set"
	if ttl <= 0 {
		return fmt.Errorf("%s: ttl not greater than zero", op)
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements Cache.Delete.
func (r *Redis) Delete(ctx context.Context, key string) error {
	const op = "Redis.Delete"
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Take implements Cache.Take using GETDEL, so the consume is atomic on the
// server even with many relying-party processes sharing the cache.
func (r *Redis) Take(ctx context.Context, key string) ([]byte, error) {
	const op = "Redis.Take"
	v, err := r.client.GetDel(ctx, r.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNoEntry
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}
