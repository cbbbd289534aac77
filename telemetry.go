package mpool

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mpool-go/mpool/internal/telemetry"
)

// telemetrySource adapts Metrics to the snapshot shape internal/telemetry
// exports, so the telemetry package stays a leaf with no dependency on this
// package.
type telemetrySource struct {
	m *Metrics
}

func (s telemetrySource) Snapshot() telemetry.Snapshot {
	snap := s.m.Snapshot()
	return telemetry.Snapshot{
		MblockOps:    snap.MblockOps,
		MblockBytes:  snap.MblockBytes,
		MblockErrors: snap.MblockErrors,
		MlogOps:      snap.MlogOps,
		MlogBytes:    snap.MlogBytes,
		MlogErrors:   snap.MlogErrors,
		MDCOps:       snap.MDCOps,
		MDCBytes:     snap.MDCBytes,
		MDCErrors:    snap.MDCErrors,
		McacheOps:    snap.McacheOps,
		McacheErrors: snap.McacheErrors,

		TotalOps:   snap.TotalOps,
		TotalBytes: snap.TotalBytes,
		ErrorRate:  snap.ErrorRate,

		AvgLatencyNs:  snap.AvgLatencyNs,
		LatencyP50Ns:  snap.LatencyP50Ns,
		LatencyP99Ns:  snap.LatencyP99Ns,
		LatencyP999Ns: snap.LatencyP999Ns,
		UptimeNs:      snap.UptimeNs,
	}
}

// NewCollector returns a prometheus.Collector rendering m on every scrape.
func NewCollector(m *Metrics) prometheus.Collector {
	return telemetry.New(telemetrySource{m: m})
}

// RegisterCollector registers the pool's metrics with reg. Callers that
// embed mpool into an application with its own Prometheus registry call
// this once after Open; nothing is ever registered against the global
// default registry.
func (p *Pool) RegisterCollector(reg prometheus.Registerer) error {
	return telemetry.Register(reg, telemetrySource{m: p.metrics})
}
