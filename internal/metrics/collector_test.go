package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/pkg/types"
)

func TestCollector_Operations(t *testing.T) {
	c := NewCollector()

	c.ObserveOperation("upload", types.TierFast, nil, 50*time.Millisecond)
	c.ObserveOperation("upload", types.TierFast, nil, 80*time.Millisecond)
	c.ObserveOperation("upload", types.TierFast, fmt.Errorf("boom"), 10*time.Millisecond)
	c.ObserveOperation("download", types.TierBulk, nil, 200*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		c.operations.WithLabelValues("upload", "fast", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.operations.WithLabelValues("upload", "fast", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.operations.WithLabelValues("download", "bulk", "ok")))
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector()

	c.SetTierUsage(types.TierFast, 12, 4096)
	c.SetTierSpend(types.TierBulk, 3.5)
	c.SetBudgetUtilization(85.6)

	assert.Equal(t, float64(12), testutil.ToFloat64(c.filesByTier.WithLabelValues("fast")))
	assert.Equal(t, float64(4096), testutil.ToFloat64(c.bytesByTier.WithLabelValues("fast")))
	assert.Equal(t, 3.5, testutil.ToFloat64(c.tierSpend.WithLabelValues("bulk")))
	assert.Equal(t, 85.6, testutil.ToFloat64(c.budgetUtil))
}

func TestCollector_MigrationsAndRouting(t *testing.T) {
	c := NewCollector()

	c.ObserveMigration(types.ReasonAge, nil)
	c.ObserveMigration(types.ReasonAge, fmt.Errorf("conflict"))
	c.ObserveRoutingDecision("large_file", types.TierBulk)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.migrations.WithLabelValues("age", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.migrations.WithLabelValues("age", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.routingDecisions.WithLabelValues("large_file", "bulk")))
}

func TestCollector_Orphans(t *testing.T) {
	c := NewCollector()

	c.ObserveOrphan(types.TierFast, "upload_commit")
	c.ObserveOrphan(types.TierFast, "upload_commit")
	c.ObserveOrphan(types.TierBulk, "stale_source")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.orphans.WithLabelValues("fast", "upload_commit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.orphans.WithLabelValues("bulk", "stale_source")))
}

func TestCollector_PrivateRegistries(t *testing.T) {
	// Two collectors must coexist without duplicate registration panics.
	a := NewCollector()
	b := NewCollector()
	require.NotSame(t, a.Registry(), b.Registry())

	a.AddBytesTransferred("in", types.TierFast, 1024)
	assert.Equal(t, float64(1024), testutil.ToFloat64(a.bytesTransferred.WithLabelValues("in", "fast")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.bytesTransferred.WithLabelValues("in", "fast")))
}
