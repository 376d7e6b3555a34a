package nanotube

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the arbiter-dispatch latency histogram buckets
// in nanoseconds, covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks engine-level operational statistics: channel I/O,
// map operations, and arbiter dispatch latency, across the whole
// processing system.
type Metrics struct {
	// Channel I/O counters.
	PacketsIn      atomic.Uint64 // Packets accepted by a stage
	PacketsOut     atomic.Uint64 // Packets forwarded downstream
	PacketsDropped atomic.Uint64 // Packets consumed by a Drop verdict
	BytesIn        atomic.Uint64
	BytesOut       atomic.Uint64

	// Channel backpressure counters.
	ReaderBlocked atomic.Uint64 // Times a stage blocked on an empty channel
	WriterBlocked atomic.Uint64 // Times a stage blocked on a full channel

	// Map operation counters, by result.
	MapOpsPresent atomic.Uint64
	MapOpsAbsent  atomic.Uint64
	MapOpsRemoved atomic.Uint64

	// Arbiter dispatch latency.
	TotalDispatchLatencyNs atomic.Uint64
	DispatchCount          atomic.Uint64
	LatencyBuckets         [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordPacket records one packet passing through a stage.
func (m *Metrics) RecordPacket(bytesIn int, dropped bool) {
	m.PacketsIn.Add(1)
	m.BytesIn.Add(uint64(bytesIn))
	if dropped {
		m.PacketsDropped.Add(1)
		return
	}
	m.PacketsOut.Add(1)
	m.BytesOut.Add(uint64(bytesIn))
}

// RecordReaderBlocked records one blocking Read call.
func (m *Metrics) RecordReaderBlocked() { m.ReaderBlocked.Add(1) }

// RecordWriterBlocked records one blocking Write call.
func (m *Metrics) RecordWriterBlocked() { m.WriterBlocked.Add(1) }

// RecordMapOp records one map operation's result and dispatch latency.
func (m *Metrics) RecordMapOp(present, removed bool, latencyNs uint64) {
	switch {
	case removed:
		m.MapOpsRemoved.Add(1)
	case present:
		m.MapOpsPresent.Add(1)
	default:
		m.MapOpsAbsent.Add(1)
	}
	m.recordDispatchLatency(latencyNs)
}

func (m *Metrics) recordDispatchLatency(latencyNs uint64) {
	m.TotalDispatchLatencyNs.Add(latencyNs)
	m.DispatchCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the processing system as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics, safe to read
// without racing the live counters.
type MetricsSnapshot struct {
	PacketsIn      uint64
	PacketsOut     uint64
	PacketsDropped uint64
	BytesIn        uint64
	BytesOut       uint64

	ReaderBlocked uint64
	WriterBlocked uint64

	MapOpsPresent uint64
	MapOpsAbsent  uint64
	MapOpsRemoved uint64

	AvgDispatchLatencyNs uint64
	LatencyHistogram     [numLatencyBuckets]uint64

	UptimeNs uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PacketsIn:      m.PacketsIn.Load(),
		PacketsOut:     m.PacketsOut.Load(),
		PacketsDropped: m.PacketsDropped.Load(),
		BytesIn:        m.BytesIn.Load(),
		BytesOut:       m.BytesOut.Load(),
		ReaderBlocked:  m.ReaderBlocked.Load(),
		WriterBlocked:  m.WriterBlocked.Load(),
		MapOpsPresent:  m.MapOpsPresent.Load(),
		MapOpsAbsent:   m.MapOpsAbsent.Load(),
		MapOpsRemoved:  m.MapOpsRemoved.Load(),
	}

	totalLatencyNs := m.TotalDispatchLatencyNs.Load()
	dispatchCount := m.DispatchCount.Load()
	if dispatchCount > 0 {
		snap.AvgDispatchLatencyNs = totalLatencyNs / dispatchCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// Reset zeroes all counters, useful for testing.
func (m *Metrics) Reset() {
	m.PacketsIn.Store(0)
	m.PacketsOut.Store(0)
	m.PacketsDropped.Store(0)
	m.BytesIn.Store(0)
	m.BytesOut.Store(0)
	m.ReaderBlocked.Store(0)
	m.WriterBlocked.Store(0)
	m.MapOpsPresent.Store(0)
	m.MapOpsAbsent.Store(0)
	m.MapOpsRemoved.Store(0)
	m.TotalDispatchLatencyNs.Store(0)
	m.DispatchCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, mirroring the teacher's
// queue-runner observer hook.
type Observer interface {
	ObservePacket(bytesIn int, dropped bool)
	ObserveReaderBlocked()
	ObserveWriterBlocked()
	ObserveMapOp(present, removed bool, latencyNs uint64)
}

// NoOpObserver is a no-op Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObservePacket(int, bool)              {}
func (NoOpObserver) ObserveReaderBlocked()                {}
func (NoOpObserver) ObserveWriterBlocked()                {}
func (NoOpObserver) ObserveMapOp(bool, bool, uint64)      {}

// MetricsObserver implements Observer by recording into a Metrics
// instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePacket(bytesIn int, dropped bool) {
	o.metrics.RecordPacket(bytesIn, dropped)
}

func (o *MetricsObserver) ObserveReaderBlocked() { o.metrics.RecordReaderBlocked() }
func (o *MetricsObserver) ObserveWriterBlocked() { o.metrics.RecordWriterBlocked() }

func (o *MetricsObserver) ObserveMapOp(present, removed bool, latencyNs uint64) {
	o.metrics.RecordMapOp(present, removed, latencyNs)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
