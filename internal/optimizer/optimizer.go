package optimizer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tierstore/tierstore/internal/catalog"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/internal/metrics"
	"github.com/tierstore/tierstore/pkg/types"
)

const expirySweepLimit = 1000

// TaskPublisher pushes a persisted task to the migration worker. Satisfied
// by the queue connection.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task *types.MigrationTask) error
}

// Deleter removes a file end to end. Satisfied by the gateway.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// Optimizer scans the catalog and schedules tier migrations.
type Optimizer struct {
	store     catalog.Store
	tasks     catalog.TaskStore
	publisher TaskPublisher
	deleter   Deleter
	tiers     config.TiersConfig
	cfg       config.OptimizerConfig
	collector *metrics.Collector
	logger    *slog.Logger

	now func() time.Time
}

// New creates an optimizer.
func New(store catalog.Store, tasks catalog.TaskStore, publisher TaskPublisher, deleter Deleter,
	tiers config.TiersConfig, cfg config.OptimizerConfig,
	collector *metrics.Collector, logger *slog.Logger) *Optimizer {
	return &Optimizer{
		store:     store,
		tasks:     tasks,
		publisher: publisher,
		deleter:   deleter,
		tiers:     tiers,
		cfg:       cfg,
		collector: collector,
		logger:    logger.With("component", "optimizer"),
		now:       time.Now,
	}
}

// Run executes scan passes on the configured interval until the context is
// canceled. The first pass runs immediately.
func (o *Optimizer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	o.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("optimizer stopping")
			return
		case <-ticker.C:
			o.runPass(ctx)
		}
	}
}

func (o *Optimizer) runPass(ctx context.Context) {
	started := o.now()
	scheduled, swept, err := o.RunOnce(ctx)
	if err != nil {
		o.logger.Error("optimizer pass failed", "error", err)
		return
	}
	o.logger.Info("optimizer pass complete",
		"scheduled", scheduled, "swept", swept, "duration", o.now().Sub(started))
}

// RunOnce performs one full pass: pending-task republish, expiry sweep,
// catalog scan, usage gauge refresh. Returns the number of migrations
// scheduled and files swept.
func (o *Optimizer) RunOnce(ctx context.Context) (scheduled, swept int, err error) {
	// Tasks stranded by a broker outage go out first; their files still
	// carry an active task, so the scan below skips them.
	if n, repubErr := o.RepublishPending(ctx, o.cfg.PageSize); repubErr != nil {
		o.logger.Warn("pending republish failed", "error", repubErr)
	} else if n > 0 {
		o.logger.Info("republished pending tasks", "count", n)
	}

	if o.cfg.SweepExpired {
		swept, err = o.sweepExpired(ctx)
		if err != nil {
			return 0, swept, err
		}
	}

	scheduled, err = o.scan(ctx)
	if err != nil {
		return scheduled, swept, err
	}

	o.refreshUsage(ctx)
	return scheduled, swept, nil
}

// sweepExpired deletes files whose expiry has passed. Each file goes
// through the gateway so the object-first delete protocol holds.
func (o *Optimizer) sweepExpired(ctx context.Context) (int, error) {
	now := o.now()
	swept := 0

	for {
		expired, err := o.store.Query(ctx, catalog.Filter{
			ExpiredAsOf: &now,
			Limit:       expirySweepLimit,
		})
		if err != nil {
			return swept, err
		}
		if len(expired) == 0 {
			return swept, nil
		}

		progressed := false
		for _, f := range expired {
			if err := o.deleter.Delete(ctx, f.ID); err != nil {
				o.logger.Warn("expiry delete failed", "id", f.ID, "error", err)
				continue
			}
			swept++
			progressed = true
		}
		// Every remaining candidate failed; stop rather than spin.
		if !progressed {
			return swept, nil
		}
	}
}

// scan walks the catalog page by page and schedules migrations.
func (o *Optimizer) scan(ctx context.Context) (int, error) {
	now := o.now()
	scheduled := 0
	offset := 0

	for {
		page, err := o.store.Query(ctx, catalog.Filter{
			Limit:  o.cfg.PageSize,
			Offset: offset,
		})
		if err != nil {
			return scheduled, err
		}
		if len(page) == 0 {
			return scheduled, nil
		}

		for _, f := range page {
			dest, reason, ok := o.evaluate(f, now)
			if !ok {
				continue
			}
			if err := o.schedule(ctx, f, dest, reason); err != nil {
				o.logger.Warn("scheduling migration failed", "id", f.ID, "error", err)
				continue
			}
			scheduled++
		}

		if len(page) < o.cfg.PageSize {
			return scheduled, nil
		}
		offset += o.cfg.PageSize
	}
}

// evaluate decides whether a file should move and where.
func (o *Optimizer) evaluate(f *types.StoredFile, now time.Time) (types.TierID, types.MigrationReason, bool) {
	if f.Expired(now) {
		return "", "", false
	}

	switch f.Tier {
	case types.TierFast:
		if o.isCold(f, now) {
			// Past the archive age every demotion is taken; below it
			// the savings floor filters out noise moves.
			if f.Age(now) < o.cfg.ArchiveMinAge && !o.savesEnough(f, types.TierFast, types.TierBulk) {
				return "", "", false
			}
			return types.TierBulk, types.ReasonAge, true
		}
	case types.TierBulk:
		if o.isHot(f, now) {
			return types.TierFast, types.ReasonAccessPattern, true
		}
	}
	return "", "", false
}

// isCold reports whether a file is old and idle enough to demote.
func (o *Optimizer) isCold(f *types.StoredFile, now time.Time) bool {
	if f.Age(now) < o.cfg.ColdMinAge {
		return false
	}
	if f.LastAccessedAt == nil {
		return true
	}
	return now.Sub(*f.LastAccessedAt) >= o.cfg.ColdIdleWindow
}

// isHot reports whether a file earns a promotion: sustained reads with a
// recent one.
func (o *Optimizer) isHot(f *types.StoredFile, now time.Time) bool {
	if f.AccessCount < o.cfg.HotMinAccesses {
		return false
	}
	if f.LastAccessedAt == nil {
		return false
	}
	return now.Sub(*f.LastAccessedAt) <= o.cfg.HotAccessWindow
}

// savesEnough applies the minimum savings floor to demotions. Promotions
// skip it: they spend money for latency on purpose.
func (o *Optimizer) savesEnough(f *types.StoredFile, from, to types.TierID) bool {
	fromProfile, okFrom := o.tiers.Profile(from)
	toProfile, okTo := o.tiers.Profile(to)
	if !okFrom || !okTo {
		return false
	}
	return types.EstimatedMonthlySavings(f.SizeBytes, fromProfile, toProfile) >= o.cfg.MinSavingsUSD
}

// schedule persists a task and publishes it. A file with an active task is
// skipped so one cold file does not pile up duplicate moves. Publish
// failures leave the task pending; a later pass republishes it.
func (o *Optimizer) schedule(ctx context.Context, f *types.StoredFile, dest types.TierID, reason types.MigrationReason) error {
	active, err := o.tasks.HasActiveTask(ctx, f.ID)
	if err != nil {
		return err
	}
	if active {
		return nil
	}

	task := &types.MigrationTask{
		ID:         uuid.NewString(),
		FileID:     f.ID,
		SourceTier: f.Tier,
		DestTier:   dest,
		Reason:     reason,
		Status:     types.TaskPending,
	}
	if err := o.tasks.CreateTask(ctx, task); err != nil {
		return err
	}

	if err := o.publisher.PublishTask(ctx, task); err != nil {
		o.logger.Warn("task publish failed, left pending", "task", task.ID, "error", err)
		return nil
	}

	o.logger.Debug("migration scheduled",
		"task", task.ID, "file", f.ID, "from", f.Tier, "to", dest, "reason", reason)
	return nil
}

// RepublishPending re-emits tasks that were persisted but never made it to
// the queue, typically after a broker outage. A task that was queued and is
// merely awaiting the worker may be emitted twice; the worker tolerates
// duplicates because migrating an already-placed file is a noop.
func (o *Optimizer) RepublishPending(ctx context.Context, limit int) (int, error) {
	pending, err := o.tasks.PendingTasks(ctx, limit)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, task := range pending {
		if err := o.publisher.PublishTask(ctx, task); err != nil {
			o.logger.Warn("republish failed", "task", task.ID, "error", err)
			continue
		}
		published++
	}
	return published, nil
}

// refreshUsage updates the per-tier footprint gauges.
func (o *Optimizer) refreshUsage(ctx context.Context) {
	usage, err := o.store.UsageByTier(ctx)
	if err != nil {
		o.logger.Warn("usage refresh failed", "error", err)
		return
	}
	for _, u := range usage {
		o.collector.SetTierUsage(u.Tier, u.FileCount, u.Bytes)
	}
}
