package catalog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

// fakeCache is a map-backed Cache for tests.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (f *fakeCache) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.entries[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case string:
		f.entries[key] = v
	case []byte:
		f.entries[key] = string(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.entries[key]; ok {
			delete(f.entries, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeCache) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

// hookedStore runs a callback just before selected writes commit, standing
// in for a reader that lands mid-write.
type hookedStore struct {
	Store
	beforePlacement func()
	beforeDelete    func()
}

func (h *hookedStore) UpdatePlacement(ctx context.Context, id string, version int64, tier types.TierID, key string) error {
	if h.beforePlacement != nil {
		h.beforePlacement()
	}
	return h.Store.UpdatePlacement(ctx, id, version, tier, key)
}

func (h *hookedStore) Delete(ctx context.Context, id string) error {
	if h.beforeDelete != nil {
		h.beforeDelete()
	}
	return h.Store.Delete(ctx, id)
}

func newCachedFile(t *testing.T, mem *MemoryStore) *types.StoredFile {
	t.Helper()
	file := &types.StoredFile{
		ID:           uuid.NewString(),
		LogicalName:  "f.bin",
		OriginalName: "f.bin",
		Tier:         types.TierFast,
		BackendKey:   "fast/original",
		SizeBytes:    64,
		OwnerID:      "alice",
		Version:      1,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, mem.Create(context.Background(), file))
	return file
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	cache := newFakeCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cached := NewCachedStore(mem, cache, time.Minute, logger)

	file := newCachedFile(t, mem)

	got, err := cached.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)
	assert.True(t, cache.has(fileKey(file.ID)))

	// Second read is served from the cache.
	got, err = cached.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "fast/original", got.BackendKey)
}

func TestCachedStore_PlacementRaceCannotPinStaleLocator(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	cache := newFakeCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	file := newCachedFile(t, mem)

	// The hook plays a reader that lands after the pre-write invalidation
	// but before the placement commits: it re-caches the old locator.
	var cached *CachedStore
	hooked := &hookedStore{Store: mem}
	hooked.beforePlacement = func() {
		got, err := cached.GetByID(ctx, file.ID)
		require.NoError(t, err)
		require.Equal(t, "fast/original", got.BackendKey)
		require.True(t, cache.has(fileKey(file.ID)))
	}
	cached = NewCachedStore(hooked, cache, time.Minute, logger)

	require.NoError(t, cached.UpdatePlacement(ctx, file.ID, 1, types.TierBulk, "bulk/moved"))

	// Readers after the migration must see the new locator, not the
	// re-cached row pointing at the deleted source object.
	got, err := cached.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TierBulk, got.Tier)
	assert.Equal(t, "bulk/moved", got.BackendKey)
}

func TestCachedStore_DeleteRaceCannotResurrectRow(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	cache := newFakeCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	file := newCachedFile(t, mem)

	var cached *CachedStore
	hooked := &hookedStore{Store: mem}
	hooked.beforeDelete = func() {
		_, err := cached.GetByID(ctx, file.ID)
		require.NoError(t, err)
		require.True(t, cache.has(fileKey(file.ID)))
	}
	cached = NewCachedStore(hooked, cache, time.Minute, logger)

	require.NoError(t, cached.Delete(ctx, file.ID))

	_, err := cached.GetByID(ctx, file.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	assert.False(t, cache.has(fileKey(file.ID)))
}

func TestCachedStore_MutationsInvalidate(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	cache := newFakeCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cached := NewCachedStore(mem, cache, time.Minute, logger)

	file := newCachedFile(t, mem)
	_, err := cached.GetByID(ctx, file.ID)
	require.NoError(t, err)
	require.True(t, cache.has(fileKey(file.ID)))

	require.NoError(t, cached.RecordAccess(ctx, file.ID, time.Now()))
	assert.False(t, cache.has(fileKey(file.ID)))

	got, err := cached.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
}
