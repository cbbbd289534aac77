package mpool

import (
	"sync/atomic"
	"time"

	"github.com/mpool-go/mpool/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// opCounters is the set of atomic counters kept per component (mblock, mlog,
// MDC, mcache): an operation count, a byte count, and an error count.
type opCounters struct {
	Ops    atomic.Uint64
	Bytes  atomic.Uint64
	Errors atomic.Uint64
}

func (c *opCounters) record(bytes uint64, success bool) {
	c.Ops.Add(1)
	if success {
		c.Bytes.Add(bytes)
	} else {
		c.Errors.Add(1)
	}
}

func (c *opCounters) reset() {
	c.Ops.Store(0)
	c.Bytes.Store(0)
	c.Errors.Store(0)
}

// Metrics tracks performance and operational statistics for a Pool: one
// opCounters per managed object kind, plus a shared latency histogram
// across every operation the pool observes.
type Metrics struct {
	Mblock opCounters
	Mlog   opCounters
	MDC    opCounters
	Mcache opCounters

	// Performance tracking
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts). Bucket[i] contains the
	// count of operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Pool lifecycle
	StartTime atomic.Int64 // Open timestamp (UnixNano)
	StopTime  atomic.Int64 // Close timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordMblockOp records an mblock operation (Allocate, Write-sync,
// Write-async, Read, Commit, Abort, Delete, ...).
func (m *Metrics) RecordMblockOp(bytes uint64, latencyNs uint64, success bool) {
	m.Mblock.record(bytes, success)
	m.recordLatency(latencyNs)
}

// RecordMlogOp records an mlog operation (Append, Read-next, Flush, ...).
func (m *Metrics) RecordMlogOp(bytes uint64, latencyNs uint64, success bool) {
	m.Mlog.record(bytes, success)
	m.recordLatency(latencyNs)
}

// RecordMDCOp records an MDC operation (Append, Cstart, Cend, Read, ...).
func (m *Metrics) RecordMDCOp(bytes uint64, latencyNs uint64, success bool) {
	m.MDC.record(bytes, success)
	m.recordLatency(latencyNs)
}

// RecordMcacheOp records an mcache operation (Mmap, Getpages, Madvise, ...).
// mcache operations don't move object bytes through the caller's buffer the
// way the other three do, so no byte count is tracked.
func (m *Metrics) RecordMcacheOp(latencyNs uint64, success bool) {
	m.Mcache.record(0, success)
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the pool as closed.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	MblockOps, MblockBytes, MblockErrors uint64
	MlogOps, MlogBytes, MlogErrors       uint64
	MDCOps, MDCBytes, MDCErrors          uint64
	McacheOps, McacheErrors              uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64 // percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		MblockOps:    m.Mblock.Ops.Load(),
		MblockBytes:  m.Mblock.Bytes.Load(),
		MblockErrors: m.Mblock.Errors.Load(),
		MlogOps:      m.Mlog.Ops.Load(),
		MlogBytes:    m.Mlog.Bytes.Load(),
		MlogErrors:   m.Mlog.Errors.Load(),
		MDCOps:       m.MDC.Ops.Load(),
		MDCBytes:     m.MDC.Bytes.Load(),
		MDCErrors:    m.MDC.Errors.Load(),
		McacheOps:    m.Mcache.Ops.Load(),
		McacheErrors: m.Mcache.Errors.Load(),
	}

	snap.TotalOps = snap.MblockOps + snap.MlogOps + snap.MDCOps + snap.McacheOps
	snap.TotalBytes = snap.MblockBytes + snap.MlogBytes + snap.MDCBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	totalErrors := snap.MblockErrors + snap.MlogErrors + snap.MDCErrors + snap.McacheErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.Mblock.reset()
	m.Mlog.reset()
	m.MDC.reset()
	m.Mcache.reset()
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of interfaces.Observer, used when a
// Pool is opened without an observer configured.
type NoOpObserver struct{}

func (NoOpObserver) ObserveMblockOp(string, uint64, time.Duration, bool) {}
func (NoOpObserver) ObserveMlogOp(string, uint64, time.Duration, bool)   {}
func (NoOpObserver) ObserveMDCOp(string, uint64, time.Duration, bool)    {}
func (NoOpObserver) ObserveMcacheOp(string, time.Duration, bool)         {}

// MetricsObserver implements interfaces.Observer using the built-in Metrics.
// The op name is accepted for interface compliance and log correlation but
// Metrics itself aggregates per component, not per individual op name.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveMblockOp(op string, bytes uint64, latency time.Duration, success bool) {
	o.metrics.RecordMblockOp(bytes, uint64(latency), success)
}

func (o *MetricsObserver) ObserveMlogOp(op string, bytes uint64, latency time.Duration, success bool) {
	o.metrics.RecordMlogOp(bytes, uint64(latency), success)
}

func (o *MetricsObserver) ObserveMDCOp(op string, bytes uint64, latency time.Duration, success bool) {
	o.metrics.RecordMDCOp(bytes, uint64(latency), success)
}

func (o *MetricsObserver) ObserveMcacheOp(op string, latency time.Duration, success bool) {
	o.metrics.RecordMcacheOp(uint64(latency), success)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (*NoOpObserver)(nil)
