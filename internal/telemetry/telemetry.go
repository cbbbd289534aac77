// Package telemetry exports mpool's internal Metrics as Prometheus
// collectors. It registers lazily against a caller-supplied registerer so
// embedding applications are never forced onto the global default registry.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the subset of mpool.MetricsSnapshot telemetry needs to export.
// Defined locally (rather than importing the root package) so this package
// stays a leaf any caller — including the root package itself — can depend
// on without risking a cycle.
type Snapshot struct {
	MblockOps, MblockBytes, MblockErrors uint64
	MlogOps, MlogBytes, MlogErrors       uint64
	MDCOps, MDCBytes, MDCErrors          uint64
	McacheOps, McacheErrors              uint64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64

	AvgLatencyNs  uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64
	UptimeNs      uint64
}

// SnapshotSource is satisfied by *mpool.Metrics via its Snapshot method,
// re-expressed here to avoid importing the root package.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// Exporter is a prometheus.Collector that renders a SnapshotSource on
// every scrape: pull-based, so the counters live in one place and nothing
// is duplicated into prometheus types between scrapes.
type Exporter struct {
	source SnapshotSource

	opsDesc      *prometheus.Desc
	bytesDesc    *prometheus.Desc
	errorsDesc   *prometheus.Desc
	errorRate    *prometheus.Desc
	latencyAvg   *prometheus.Desc
	latencyQuant *prometheus.Desc
	uptime       *prometheus.Desc
}

// New creates an Exporter over source. Call MustRegister or Register on the
// caller's registry to start scraping.
func New(source SnapshotSource) *Exporter {
	return &Exporter{
		source: source,
		opsDesc: prometheus.NewDesc(
			"mpool_ops_total", "Total operations observed, by component.",
			[]string{"component"}, nil),
		bytesDesc: prometheus.NewDesc(
			"mpool_bytes_total", "Total bytes moved, by component.",
			[]string{"component"}, nil),
		errorsDesc: prometheus.NewDesc(
			"mpool_errors_total", "Total failed operations, by component.",
			[]string{"component"}, nil),
		errorRate: prometheus.NewDesc(
			"mpool_error_rate_percent", "Percentage of operations that failed.",
			nil, nil),
		latencyAvg: prometheus.NewDesc(
			"mpool_latency_avg_nanoseconds", "Average operation latency.",
			nil, nil),
		latencyQuant: prometheus.NewDesc(
			"mpool_latency_nanoseconds", "Estimated operation latency at a quantile.",
			[]string{"quantile"}, nil),
		uptime: prometheus.NewDesc(
			"mpool_uptime_nanoseconds", "Nanoseconds since the pool was opened.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.opsDesc
	ch <- e.bytesDesc
	ch <- e.errorsDesc
	ch <- e.errorRate
	ch <- e.latencyAvg
	ch <- e.latencyQuant
	ch <- e.uptime
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.source.Snapshot()

	components := []struct {
		name   string
		ops    uint64
		bytes  uint64
		errors uint64
	}{
		{"mblock", snap.MblockOps, snap.MblockBytes, snap.MblockErrors},
		{"mlog", snap.MlogOps, snap.MlogBytes, snap.MlogErrors},
		{"mdc", snap.MDCOps, snap.MDCBytes, snap.MDCErrors},
		{"mcache", snap.McacheOps, 0, snap.McacheErrors},
	}
	for _, c := range components {
		ch <- prometheus.MustNewConstMetric(e.opsDesc, prometheus.CounterValue, float64(c.ops), c.name)
		ch <- prometheus.MustNewConstMetric(e.bytesDesc, prometheus.CounterValue, float64(c.bytes), c.name)
		ch <- prometheus.MustNewConstMetric(e.errorsDesc, prometheus.CounterValue, float64(c.errors), c.name)
	}

	ch <- prometheus.MustNewConstMetric(e.errorRate, prometheus.GaugeValue, snap.ErrorRate)
	ch <- prometheus.MustNewConstMetric(e.latencyAvg, prometheus.GaugeValue, float64(snap.AvgLatencyNs))
	ch <- prometheus.MustNewConstMetric(e.latencyQuant, prometheus.GaugeValue, float64(snap.LatencyP50Ns), "0.5")
	ch <- prometheus.MustNewConstMetric(e.latencyQuant, prometheus.GaugeValue, float64(snap.LatencyP99Ns), "0.99")
	ch <- prometheus.MustNewConstMetric(e.latencyQuant, prometheus.GaugeValue, float64(snap.LatencyP999Ns), "0.999")
	ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, float64(snap.UptimeNs))
}

// Register adds the exporter to reg. Safe to call once per registry.
func Register(reg prometheus.Registerer, source SnapshotSource) error {
	return reg.Register(New(source))
}
