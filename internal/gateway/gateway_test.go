package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/internal/backend"
	"github.com/tierstore/tierstore/internal/catalog"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/internal/metrics"
	"github.com/tierstore/tierstore/internal/policy"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

type fixture struct {
	gw    *Gateway
	store *catalog.MemoryStore
	fast  *backend.MemoryAdapter
	bulk  *backend.MemoryAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.NewDefault()
	store := catalog.NewMemoryStore()
	fast := backend.NewMemoryAdapter(types.TierFast)
	bulk := backend.NewMemoryAdapter(types.TierBulk)
	engine := policy.NewEngine(cfg.Routing, cfg.Tiers.DefaultTier)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gw := New(store, backend.NewRegistry(fast, bulk), engine,
		cfg.Tiers, cfg.Gateway, metrics.NewCollector(), logger)

	return &fixture{gw: gw, store: store, fast: fast, bulk: bulk}
}

func upload(t *testing.T, f *fixture, name string, data []byte, mime string, opts types.UploadOptions) *types.UploadResult {
	t.Helper()
	res, err := f.gw.Upload(context.Background(), name, bytes.NewReader(data), int64(len(data)), mime, opts)
	require.NoError(t, err)
	return res
}

func TestUpload_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	data := []byte("quarterly numbers")
	res := upload(t, f, "report.pdf", data, "application/pdf", types.UploadOptions{OwnerID: "alice"})

	assert.Equal(t, types.TierFast, res.Tier)
	assert.Greater(t, res.EstimatedMonthlyCost, 0.0)

	got, err := f.gw.Download(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
	assert.Equal(t, "report.pdf", got.Metadata.LogicalName)
	assert.Equal(t, "alice", got.Metadata.OwnerID)
}

func TestUpload_RoutesByPolicy(t *testing.T) {
	f := newFixture(t)

	video := upload(t, f, "clip.mp4", []byte("vvvv"), "video/mp4", types.UploadOptions{})
	assert.Equal(t, types.TierBulk, video.Tier)
	assert.Equal(t, 1, f.bulk.Len())

	critical := upload(t, f, "keys.bin", []byte("kkkk"), "application/octet-stream", types.UploadOptions{Critical: true})
	assert.Equal(t, types.TierFast, critical.Tier)
	assert.Equal(t, 1, f.fast.Len())
}

func TestUpload_BackendKeyCarriesExtension(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := upload(t, f, "Photo.JPG", []byte("img"), "image/jpeg", types.UploadOptions{})
	file, err := f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	assert.Contains(t, file.BackendKey, res.ID)
	assert.Contains(t, file.BackendKey, ".jpg")
}

func TestUpload_TemporaryGetsDefaultExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.cfg.TemporaryTTL = 24 * time.Hour
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	f.gw.now = func() time.Time { return now }

	res := upload(t, f, "scratch.csv", []byte("a,b"), "text/csv", types.UploadOptions{Temporary: true})
	file, err := f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, file.ExpiresAt)
	assert.Equal(t, now.Add(24*time.Hour), *file.ExpiresAt)

	// An explicit expiry is never overridden by the temporary default.
	explicit := now.Add(time.Hour)
	res = upload(t, f, "scratch2.csv", []byte("a,b"), "text/csv",
		types.UploadOptions{Temporary: true, ExpiresAt: &explicit})
	file, err = f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, file.ExpiresAt)
	assert.Equal(t, explicit, *file.ExpiresAt)
}

func TestUpload_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.gw.Upload(ctx, "", bytes.NewReader(nil), 0, "", types.UploadOptions{})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	_, err = f.gw.Upload(ctx, "f", bytes.NewReader(nil), -1, "", types.UploadOptions{})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestUpload_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.cfg.MaxUploadBytes = 10

	_, err := f.gw.Upload(ctx, "big.bin", bytes.NewReader(make([]byte, 11)), 11, "", types.UploadOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindQuotaExceeded))
	assert.Equal(t, 0, f.fast.Len())
}

func TestUpload_BackendFailureLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fast.FailPut = errors.New(errors.KindBackendUnavailable, "injected")

	_, err := f.gw.Upload(ctx, "f.txt", bytes.NewReader([]byte("x")), 1, "text/plain", types.UploadOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBackendUnavailable))

	files, err := f.store.Query(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUpload_CommitFailureCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// First upload claims the row; forcing the second onto the same id is
	// not possible from outside, so exercise the compensation through a
	// store that always rejects creates.
	failing := &failingCreateStore{MemoryStore: f.store}
	f.gw.store = failing

	_, err := f.gw.Upload(ctx, "f.txt", bytes.NewReader([]byte("x")), 1, "text/plain", types.UploadOptions{})
	require.Error(t, err)

	// The object written before the failed commit was cleaned up.
	assert.Equal(t, 0, f.fast.Len())
}

type failingCreateStore struct {
	*catalog.MemoryStore
}

func (s *failingCreateStore) Create(ctx context.Context, file *types.StoredFile) error {
	return errors.New(errors.KindInternal, "injected commit failure")
}

func TestDownload_Missing(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.Download(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestDownload_CountsAccesses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := upload(t, f, "f.txt", []byte("x"), "text/plain", types.UploadOptions{})

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := f.gw.Download(ctx, res.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	file, err := f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), file.AccessCount)
	assert.NotNil(t, file.LastAccessedAt)
}

func TestDownload_BookkeepingFailureDoesNotFailRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := upload(t, f, "f.txt", []byte("payload"), "text/plain", types.UploadOptions{})
	f.gw.store = &failingAccessStore{MemoryStore: f.store}

	got, err := f.gw.Download(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got.Data)
}

type failingAccessStore struct {
	*catalog.MemoryStore
}

func (s *failingAccessStore) RecordAccess(ctx context.Context, id string, at time.Time) error {
	return errors.New(errors.KindInternal, "injected bookkeeping failure")
}

func TestSignedURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := upload(t, f, "f.txt", []byte("x"), "text/plain", types.UploadOptions{})

	url, err := f.gw.SignedURL(ctx, res.ID, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	// Signing counts as an access.
	file, err := f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), file.AccessCount)

	_, err = f.gw.SignedURL(ctx, res.ID, -time.Minute)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestSignedURL_ClipsTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.cfg.MaxPresignTTL = time.Hour

	res := upload(t, f, "f.txt", []byte("x"), "text/plain", types.UploadOptions{})

	// A week-long request silently clips to the one hour maximum.
	url, err := f.gw.SignedURL(ctx, res.ID, 7*24*time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, url)
}

func TestPublicURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	private := upload(t, f, "p.txt", []byte("x"), "text/plain", types.UploadOptions{})
	_, err := f.gw.PublicURL(ctx, private.ID)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))

	public := upload(t, f, "pub.txt", []byte("x"), "text/plain", types.UploadOptions{IsPublic: true})
	url, err := f.gw.PublicURL(ctx, public.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, url)
}

func TestDelete_PhysicalFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := upload(t, f, "f.txt", []byte("x"), "text/plain", types.UploadOptions{})
	require.NoError(t, f.gw.Delete(ctx, res.ID))

	assert.Equal(t, 0, f.fast.Len())
	_, err := f.gw.Stat(ctx, res.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	// A second delete reports NotFound.
	err = f.gw.Delete(ctx, res.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestDelete_KeepsRowWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := upload(t, f, "f.txt", []byte("x"), "text/plain", types.UploadOptions{})
	f.fast.FailDelete = errors.New(errors.KindBackendUnavailable, "injected")

	err := f.gw.Delete(ctx, res.ID)
	require.Error(t, err)

	// The row survives so the delete can be retried.
	file, err := f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, file.ID)

	f.fast.FailDelete = nil
	require.NoError(t, f.gw.Delete(ctx, res.ID))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		upload(t, f, "f.txt", []byte("x"), "text/plain", types.UploadOptions{OwnerID: "alice"})
	}
	upload(t, f, "g.txt", []byte("x"), "text/plain", types.UploadOptions{OwnerID: "bob"})

	files, total, err := f.gw.List(ctx, catalog.Filter{OwnerID: "alice", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Equal(t, int64(3), total)
}

func TestMigrate_MovesObjectAndPlacement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	data := []byte("cold data")
	res := upload(t, f, "f.bin", data, "application/octet-stream", types.UploadOptions{})
	require.Equal(t, types.TierFast, res.Tier)

	require.NoError(t, f.gw.Migrate(ctx, res.ID, types.TierBulk, types.ReasonAge))

	file, err := f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TierBulk, file.Tier)
	assert.Equal(t, int64(2), file.Version)

	// Source copy is gone, download serves from the new tier.
	assert.Equal(t, 0, f.fast.Len())
	got, err := f.gw.Download(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
}

func TestMigrate_NoopWhenAlreadyPlaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := upload(t, f, "f.bin", []byte("x"), "application/octet-stream", types.UploadOptions{})
	require.NoError(t, f.gw.Migrate(ctx, res.ID, types.TierFast, types.ReasonManual))

	file, err := f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), file.Version)
}

func TestMigrate_VersionRaceCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := upload(t, f, "f.bin", []byte("x"), "application/octet-stream", types.UploadOptions{})

	// A concurrent writer swaps the placement between our read and our
	// commit, so our version is stale by the time we try to swap.
	f.gw.store = &racingStore{MemoryStore: f.store}
	require.NoError(t, f.fast.Put(ctx, "fast/elsewhere", bytes.NewReader([]byte("x")), 1, ""))

	err := f.gw.Migrate(ctx, res.ID, types.TierBulk, types.ReasonAccessPattern)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConsistencyConflict))

	// The losing copy was cleaned up and the winner's placement stands.
	assert.Equal(t, 0, f.bulk.Len())
	file, err := f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "fast/elsewhere", file.BackendKey)
}

// racingStore models a concurrent migration winning between the caller's
// read and its placement commit.
type racingStore struct {
	*catalog.MemoryStore
	raced bool
}

func (s *racingStore) UpdatePlacement(ctx context.Context, id string, version int64, tier types.TierID, key string) error {
	if !s.raced {
		s.raced = true
		if err := s.MemoryStore.UpdatePlacement(ctx, id, version, types.TierFast, "fast/elsewhere"); err != nil {
			return err
		}
	}
	return s.MemoryStore.UpdatePlacement(ctx, id, version, tier, key)
}

func TestMigrate_StaleSourceTolerated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := upload(t, f, "f.bin", []byte("x"), "application/octet-stream", types.UploadOptions{})
	f.fast.FailDelete = errors.New(errors.KindBackendUnavailable, "injected")

	// The migration still succeeds; the stale source object is accepted.
	require.NoError(t, f.gw.Migrate(ctx, res.ID, types.TierBulk, types.ReasonAge))

	file, err := f.gw.Stat(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TierBulk, file.Tier)
	assert.Equal(t, 1, f.fast.Len())
}
