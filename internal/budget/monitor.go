package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tierstore/tierstore/internal/catalog"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/internal/metrics"
	"github.com/tierstore/tierstore/pkg/types"
)

const snapshotKey = "tierstore:budget:snapshot"

// Monitor estimates spend and classifies it against the monthly budget.
type Monitor struct {
	store     catalog.Store
	tiers     config.TiersConfig
	cfg       config.BudgetConfig
	redis     *redis.Client
	collector *metrics.Collector
	logger    *slog.Logger

	now func() time.Time
}

// New creates a budget monitor. The Redis client may be nil, in which case
// snapshots are computed fresh on every call.
func New(store catalog.Store, tiers config.TiersConfig, cfg config.BudgetConfig,
	client *redis.Client, collector *metrics.Collector, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		tiers:     tiers,
		cfg:       cfg,
		redis:     client,
		collector: collector,
		logger:    logger.With("component", "budget"),
		now:       time.Now,
	}
}

// Run refreshes the snapshot on the configured interval until the context
// is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("budget monitor stopping")
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *Monitor) refresh(ctx context.Context) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		m.logger.Error("budget refresh failed", "error", err)
		return
	}
	if snap.Status == types.BudgetCritical || snap.Status == types.BudgetWarning {
		m.logger.Warn("budget pressure",
			"status", snap.Status,
			"spend", snap.TotalSpend,
			"budget", snap.MonthlyBudget,
			"utilization_pct", snap.UtilizationPercent())
	}
}

// Snapshot computes a fresh spend estimate, updates the gauges, and caches
// the result.
func (m *Monitor) Snapshot(ctx context.Context) (*types.BudgetSnapshot, error) {
	usage, err := m.store.UsageByTier(ctx)
	if err != nil {
		return nil, err
	}

	snap := &types.BudgetSnapshot{
		MonthlyBudget: m.cfg.MonthlyBudgetUSD,
		GeneratedAt:   m.now(),
	}

	for _, u := range usage {
		profile, ok := m.tiers.Profile(u.Tier)
		if !ok {
			m.logger.Warn("usage in unprofiled tier ignored", "tier", u.Tier)
			continue
		}
		spend := profile.MonthlyStorageCost(u.Bytes)
		snap.PerTier = append(snap.PerTier, types.TierSpend{
			Tier:      u.Tier,
			Bytes:     u.Bytes,
			Spend:     spend,
			FileCount: u.FileCount,
		})
		snap.TotalSpend += spend
		m.collector.SetTierSpend(u.Tier, spend)
	}
	sort.Slice(snap.PerTier, func(i, j int) bool { return snap.PerTier[i].Tier < snap.PerTier[j].Tier })

	snap.Status = types.ClassifySpend(snap.TotalSpend, snap.MonthlyBudget)
	snap.Recommendations = m.recommend(snap)
	m.collector.SetBudgetUtilization(snap.UtilizationPercent())

	m.cache(ctx, snap)
	return snap, nil
}

// Cached returns the last cached snapshot, computing a fresh one when the
// cache is cold or unavailable.
func (m *Monitor) Cached(ctx context.Context) (*types.BudgetSnapshot, error) {
	if m.redis != nil {
		if raw, err := m.redis.Get(ctx, snapshotKey).Result(); err == nil {
			var snap types.BudgetSnapshot
			if err := json.Unmarshal([]byte(raw), &snap); err == nil {
				return &snap, nil
			}
		}
	}
	return m.Snapshot(ctx)
}

func (m *Monitor) cache(ctx context.Context, snap *types.BudgetSnapshot) {
	if m.redis == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := m.redis.Set(ctx, snapshotKey, raw, m.cfg.SnapshotTTL).Err(); err != nil {
		m.logger.Warn("snapshot cache failed", "error", err)
	}
}

// recommend derives advice from the snapshot. Recommendations are strictly
// advisory; nothing acts on them automatically.
func (m *Monitor) recommend(snap *types.BudgetSnapshot) []string {
	var recs []string

	var fastSpend, fastBytes float64
	for _, ts := range snap.PerTier {
		if ts.Tier == types.TierFast {
			fastSpend = ts.Spend
			fastBytes = float64(ts.Bytes)
		}
	}

	switch snap.Status {
	case types.BudgetCritical:
		recs = append(recs, fmt.Sprintf(
			"spend $%.2f is at or above 95%% of the $%.2f budget; raise the budget or demote fast-tier data now",
			snap.TotalSpend, snap.MonthlyBudget))
	case types.BudgetWarning:
		recs = append(recs, fmt.Sprintf(
			"spend $%.2f is above 85%% of the $%.2f budget; review fast-tier residency before month end",
			snap.TotalSpend, snap.MonthlyBudget))
	}

	if snap.TotalSpend > 0 && fastSpend/snap.TotalSpend > 0.8 && fastBytes > 0 {
		fast, okFast := m.tiers.Profile(types.TierFast)
		bulk, okBulk := m.tiers.Profile(types.TierBulk)
		if okFast && okBulk {
			saving := types.EstimatedMonthlySavings(int64(fastBytes), fast, bulk)
			recs = append(recs, fmt.Sprintf(
				"fast tier carries %.0f%% of spend; migrating its cold data to bulk would save up to $%.2f/month",
				fastSpend/snap.TotalSpend*100, saving))
		}
	}

	return recs
}
