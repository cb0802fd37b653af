package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tierstore/tierstore/pkg/types"
)

// Collector gathers tierstore metrics into a private Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec

	routingDecisions *prometheus.CounterVec
	migrations       *prometheus.CounterVec
	orphans          *prometheus.CounterVec

	filesByTier *prometheus.GaugeVec
	bytesByTier *prometheus.GaugeVec
	tierSpend   *prometheus.GaugeVec
	budgetUtil  prometheus.Gauge
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierstore",
			Name:      "operations_total",
			Help:      "Gateway operations by type, tier, and outcome",
		}, []string{"operation", "tier", "status"}),

		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tierstore",
			Name:      "operation_duration_seconds",
			Help:      "Gateway operation latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"operation", "tier"}),

		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierstore",
			Name:      "bytes_transferred_total",
			Help:      "Bytes moved through the gateway by direction and tier",
		}, []string{"direction", "tier"}),

		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierstore",
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by winning rule and chosen tier",
		}, []string{"rule", "tier"}),

		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierstore",
			Name:      "migrations_total",
			Help:      "Tier migrations by reason and outcome",
		}, []string{"reason", "status"}),

		orphans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierstore",
			Name:      "orphan_objects_total",
			Help:      "Backend objects stranded without a catalog row, by tier and cause",
		}, []string{"tier", "cause"}),

		filesByTier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierstore",
			Name:      "files",
			Help:      "Files currently cataloged per tier",
		}, []string{"tier"}),

		bytesByTier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierstore",
			Name:      "stored_bytes",
			Help:      "Bytes currently stored per tier",
		}, []string{"tier"}),

		tierSpend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierstore",
			Name:      "estimated_monthly_spend_usd",
			Help:      "Estimated monthly storage spend per tier",
		}, []string{"tier"}),

		budgetUtil: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tierstore",
			Name:      "budget_utilization_percent",
			Help:      "Estimated spend as a percentage of the monthly budget",
		}),
	}

	registry.MustRegister(
		c.operations,
		c.operationDuration,
		c.bytesTransferred,
		c.routingDecisions,
		c.migrations,
		c.orphans,
		c.filesByTier,
		c.bytesByTier,
		c.tierSpend,
		c.budgetUtil,
	)

	return c
}

// ObserveOperation records one gateway operation.
func (c *Collector) ObserveOperation(operation string, tier types.TierID, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.operations.WithLabelValues(operation, tier.String(), status).Inc()
	c.operationDuration.WithLabelValues(operation, tier.String()).Observe(duration.Seconds())
}

// AddBytesTransferred records payload bytes moved through the gateway.
// direction is "in" for uploads and "out" for downloads.
func (c *Collector) AddBytesTransferred(direction string, tier types.TierID, bytes int64) {
	c.bytesTransferred.WithLabelValues(direction, tier.String()).Add(float64(bytes))
}

// ObserveRoutingDecision counts one routing decision.
func (c *Collector) ObserveRoutingDecision(rule string, tier types.TierID) {
	c.routingDecisions.WithLabelValues(rule, tier.String()).Inc()
}

// ObserveMigration counts one migration attempt outcome.
func (c *Collector) ObserveMigration(reason types.MigrationReason, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.migrations.WithLabelValues(string(reason), status).Inc()
}

// ObserveOrphan counts a backend object stranded without a catalog row.
// The reconciliation sweep works from these and the accompanying log lines.
func (c *Collector) ObserveOrphan(tier types.TierID, cause string) {
	c.orphans.WithLabelValues(tier.String(), cause).Inc()
}

// SetTierUsage updates the per-tier footprint gauges.
func (c *Collector) SetTierUsage(tier types.TierID, files, bytes int64) {
	c.filesByTier.WithLabelValues(tier.String()).Set(float64(files))
	c.bytesByTier.WithLabelValues(tier.String()).Set(float64(bytes))
}

// SetTierSpend updates one tier's estimated spend gauge.
func (c *Collector) SetTierSpend(tier types.TierID, spend float64) {
	c.tierSpend.WithLabelValues(tier.String()).Set(spend)
}

// SetBudgetUtilization updates the budget utilization gauge.
func (c *Collector) SetBudgetUtilization(percent float64) {
	c.budgetUtil.Set(percent)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
