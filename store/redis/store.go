package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/session/store"
)

// Backend implements the store.Backend interface using Redis. It is meant
// for server-rendered deployments where several instances share one user
// session.
type Backend struct {
	client *redis.Client
	prefix string // Optional prefix for keys
}

// NewBackend creates a new [Backend] instance.
func NewBackend(client *redis.Client, prefix string) *Backend {
	return &Backend{
		client: client,
		prefix: prefix,
	}
}

// redisKey returns the Redis key for a given slot key.
func (b *Backend) redisKey(key string) string {
	return fmt.Sprintf("%s:session:%s", b.prefix, key)
}

// Set stores a value with its expiry in Redis. Expiry is mapped onto the
// key's native TTL.
func (b *Backend) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			return b.Remove(ctx, key)
		}
	}

	if err := b.client.Set(ctx, b.redisKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session entry in Redis: %w", err)
	}
	return nil
}

// Get retrieves a value from Redis.
func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := b.client.Get(ctx, b.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get session entry from Redis: %w", err)
	}
	return value, true, nil
}

// Remove deletes a value from Redis.
func (b *Backend) Remove(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete session entry from Redis: %w", err)
	}
	return nil
}

var _ store.Backend = (*Backend)(nil)
