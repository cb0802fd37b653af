package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tierstore/tierstore/pkg/types"
)

// Cache is the subset of redis commands the cached store uses. Satisfied by
// *redis.Client.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedStore wraps a Store with a Redis read-through cache for point
// lookups. The cache is strictly an accelerator: every miss or Redis error
// falls through to the underlying store. Mutations invalidate the cached
// row on both sides of the write: once before, so a failed write cannot
// leave a stale entry pinned for its full TTL, and once after, because a
// read racing the write can re-cache the old row between the first
// invalidation and the commit.
type CachedStore struct {
	Store

	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps store with a Redis cache.
func NewCachedStore(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{
		Store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "catalog.cache"),
	}
}

func fileKey(id string) string { return "tierstore:file:" + id }

// GetByID serves from Redis when possible, falling back to the store and
// populating the cache on the way out.
func (c *CachedStore) GetByID(ctx context.Context, id string) (*types.StoredFile, error) {
	if raw, err := c.cache.Get(ctx, fileKey(id)).Result(); err == nil {
		var file types.StoredFile
		if err := json.Unmarshal([]byte(raw), &file); err == nil {
			return &file, nil
		}
		// Unreadable entry; drop it and fall through.
		c.cache.Del(ctx, fileKey(id))
	}

	file, err := c.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(file); err == nil {
		if err := c.cache.Set(ctx, fileKey(id), raw, c.ttl).Err(); err != nil {
			c.logger.Warn("cache set failed", "id", id, "error", err)
		}
	}
	return file, nil
}

func (c *CachedStore) invalidate(ctx context.Context, id string) {
	if err := c.cache.Del(ctx, fileKey(id)).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", "id", id, "error", err)
	}
}

// UpdateMetadata invalidates, delegates, and invalidates again.
func (c *CachedStore) UpdateMetadata(ctx context.Context, id string, patch Patch) (*types.StoredFile, error) {
	c.invalidate(ctx, id)
	file, err := c.Store.UpdateMetadata(ctx, id, patch)
	c.invalidate(ctx, id)
	return file, err
}

// RecordAccess invalidates around the delegate; the counter lives in the
// store.
func (c *CachedStore) RecordAccess(ctx context.Context, id string, at time.Time) error {
	c.invalidate(ctx, id)
	err := c.Store.RecordAccess(ctx, id, at)
	c.invalidate(ctx, id)
	return err
}

// UpdatePlacement invalidates, delegates, and invalidates again. The second
// invalidation matters most here: serving a stale locator after a migration
// points readers at a deleted source object.
func (c *CachedStore) UpdatePlacement(ctx context.Context, id string, version int64, tier types.TierID, key string) error {
	c.invalidate(ctx, id)
	err := c.Store.UpdatePlacement(ctx, id, version, tier, key)
	c.invalidate(ctx, id)
	return err
}

// Delete invalidates, delegates, and invalidates again.
func (c *CachedStore) Delete(ctx context.Context, id string) error {
	c.invalidate(ctx, id)
	err := c.Store.Delete(ctx, id)
	c.invalidate(ctx, id)
	return err
}
