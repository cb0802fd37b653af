package optimizer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/internal/catalog"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/internal/metrics"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

type fakePublisher struct {
	published []*types.MigrationTask
	fail      bool
}

func (p *fakePublisher) PublishTask(ctx context.Context, task *types.MigrationTask) error {
	if p.fail {
		return errors.New(errors.KindBackendUnavailable, "broker down")
	}
	p.published = append(p.published, task)
	return nil
}

type storeDeleter struct {
	store *catalog.MemoryStore
}

func (d *storeDeleter) Delete(ctx context.Context, id string) error {
	return d.store.Delete(ctx, id)
}

type fixture struct {
	opt       *Optimizer
	store     *catalog.MemoryStore
	publisher *fakePublisher
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.NewDefault()
	cfg.Optimizer.PageSize = 3
	store := catalog.NewMemoryStore()
	publisher := &fakePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opt := New(store, store, publisher, &storeDeleter{store: store},
		cfg.Tiers, cfg.Optimizer, metrics.NewCollector(), logger)

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	opt.now = func() time.Time { return now }

	return &fixture{opt: opt, store: store, publisher: publisher, now: now}
}

func (f *fixture) addFile(t *testing.T, tier types.TierID, size int64, age time.Duration, accessCount int64, lastAccess *time.Duration) *types.StoredFile {
	t.Helper()
	file := &types.StoredFile{
		ID:           uuid.NewString(),
		LogicalName:  "f.bin",
		OriginalName: "f.bin",
		Tier:         tier,
		BackendKey:   "k/" + uuid.NewString(),
		SizeBytes:    size,
		MimeType:     "application/octet-stream",
		OwnerID:      "alice",
		AccessCount:  accessCount,
		Version:      1,
		CreatedAt:    f.now.Add(-age),
	}
	if lastAccess != nil {
		at := f.now.Add(-*lastAccess)
		file.LastAccessedAt = &at
	}
	require.NoError(t, f.store.Create(context.Background(), file))
	return file
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestRunOnce_DemotesColdFastFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cold := f.addFile(t, types.TierFast, 500*1024*1024, days(60), 2, nil)
	f.addFile(t, types.TierFast, 500*1024*1024, days(2), 0, nil) // too young

	recentAccess := days(1)
	f.addFile(t, types.TierFast, 500*1024*1024, days(60), 50, &recentAccess) // still read

	scheduled, swept, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 0, swept)

	require.Len(t, f.publisher.published, 1)
	task := f.publisher.published[0]
	assert.Equal(t, cold.ID, task.FileID)
	assert.Equal(t, types.TierBulk, task.DestTier)
	assert.Equal(t, types.ReasonAge, task.Reason)
}

func TestRunOnce_PromotesHotBulkFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	recent := 2 * time.Hour
	hot := f.addFile(t, types.TierBulk, 10*1024*1024, days(10), 40, &recent)

	stale := days(3)
	f.addFile(t, types.TierBulk, 10*1024*1024, days(10), 40, &stale) // reads stopped
	f.addFile(t, types.TierBulk, 10*1024*1024, days(10), 2, &recent) // too few reads

	scheduled, _, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)

	task := f.publisher.published[0]
	assert.Equal(t, hot.ID, task.FileID)
	assert.Equal(t, types.TierFast, task.DestTier)
	assert.Equal(t, types.ReasonAccessPattern, task.Reason)
}

func TestRunOnce_MinSavingsFloor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.opt.cfg.MinSavingsUSD = 0.01

	// ~1 KB saves far less than a cent per month.
	f.addFile(t, types.TierFast, 1024, days(60), 0, nil)

	scheduled, _, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, scheduled)
}

func TestRunOnce_ArchiveAgeWaivesSavingsFloor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.opt.cfg.MinSavingsUSD = 0.01

	// The same tiny file, but past the archive band: demoted regardless.
	tiny := f.addFile(t, types.TierFast, 1024, days(120), 0, nil)

	scheduled, _, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, tiny.ID, f.publisher.published[0].FileID)
}

func TestRunOnce_ThresholdsComeFromConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.opt.cfg.ColdMinAge = days(5)
	f.opt.cfg.HotMinAccesses = 3

	cold := f.addFile(t, types.TierFast, 500*1024*1024, days(6), 0, nil)
	recent := 2 * time.Hour
	hot := f.addFile(t, types.TierBulk, 10*1024*1024, days(10), 4, &recent)

	scheduled, _, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, scheduled)

	moved := map[string]types.TierID{}
	for _, task := range f.publisher.published {
		moved[task.FileID] = task.DestTier
	}
	assert.Equal(t, types.TierBulk, moved[cold.ID])
	assert.Equal(t, types.TierFast, moved[hot.ID])
}

func TestRunOnce_SkipsFilesWithActiveTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cold := f.addFile(t, types.TierFast, 500*1024*1024, days(60), 0, nil)
	require.NoError(t, f.store.CreateTask(ctx, &types.MigrationTask{
		ID:         uuid.NewString(),
		FileID:     cold.ID,
		SourceTier: types.TierFast,
		DestTier:   types.TierBulk,
		Reason:     types.ReasonAge,
		Status:     types.TaskPending,
	}))

	scheduled, _, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, scheduled)
}

func TestRunOnce_SweepsExpiredFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	expired := f.addFile(t, types.TierFast, 500*1024*1024, days(60), 0, nil)
	past := f.now.Add(-time.Hour)
	_, err := f.store.UpdateMetadata(ctx, expired.ID, catalog.Patch{ExpiresAt: ptr(&past)})
	require.NoError(t, err)

	keep := f.addFile(t, types.TierFast, 10, days(1), 0, nil)

	scheduled, swept, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	// The expired file was deleted, not migrated.
	assert.Zero(t, scheduled)

	_, err = f.store.GetByID(ctx, expired.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	_, err = f.store.GetByID(ctx, keep.ID)
	assert.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }

func TestRunOnce_PaginatesPastPageSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Three pages worth of cold files.
	for i := 0; i < 7; i++ {
		f.addFile(t, types.TierFast, 500*1024*1024, days(60), 0, nil)
	}

	scheduled, _, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, scheduled)
}

func TestSchedule_PublishFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publisher.fail = true

	f.addFile(t, types.TierFast, 500*1024*1024, days(60), 0, nil)

	scheduled, _, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)

	pending, err := f.store.PendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Broker back up: the pending task republishes.
	f.publisher.fail = false
	n, err := f.opt.RepublishPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, pending[0].ID, f.publisher.published[0].ID)
}

func TestRunOnce_RepublishesTasksStrandedByBrokerOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cold := f.addFile(t, types.TierFast, 500*1024*1024, days(60), 0, nil)

	// First pass: the broker is down, the task persists as pending.
	f.publisher.fail = true
	scheduled, _, err := f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)
	assert.Empty(t, f.publisher.published)

	// Later passes after recovery must hand the stranded task to the
	// worker even though the scan skips the file as already tasked.
	f.publisher.fail = false
	scheduled, _, err = f.opt.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, scheduled)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, cold.ID, f.publisher.published[0].FileID)

	// Until the worker consumes it, each pass re-emits the task once.
	_, _, err = f.opt.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, f.publisher.published, 2)
	assert.Equal(t, f.publisher.published[0].ID, f.publisher.published[1].ID)
}
