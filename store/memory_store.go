package store

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryBackend implements Backend using ttlcache, so expired entries drop
// out without any caller-side bookkeeping.
type MemoryBackend struct {
	cache *ttlcache.Cache[string, string]
}

// NewMemoryBackend creates a new in-memory backend with automatic cleanup.
func NewMemoryBackend() *MemoryBackend {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	// Start the cleanup process
	go cache.Start()

	return &MemoryBackend{cache: cache}
}

// Set implements Backend.Set.
func (b *MemoryBackend) Set(_ context.Context, key, value string, expiresAt time.Time) error {
	ttl := ttlcache.NoTTL
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			b.cache.Delete(key)
			return nil
		}
	}
	b.cache.Set(key, value, ttl)
	return nil
}

// Get implements Backend.Get.
func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	item := b.cache.Get(key)
	if item == nil {
		return "", false, nil
	}
	return item.Value(), true, nil
}

// Remove implements Backend.Remove.
func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	b.cache.Delete(key)
	return nil
}

// Close stops the cleanup goroutine.
func (b *MemoryBackend) Close() error {
	b.cache.Stop()
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
