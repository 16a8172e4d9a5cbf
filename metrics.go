package utkcore

import (
	"sync/atomic"
	"time"

	"github.com/oxmose/utkcore/internal/interfaces"
)

// LatencyBuckets defines the context-switch latency histogram buckets in
// nanoseconds, logarithmically spaced from 1us to 10s.
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

// Metrics tracks kernel-wide operational statistics: scheduler dispatch and
// context-switch behavior, heap/frame allocator activity, page-fault and
// futex traffic. The histogram/percentile machinery is the same shape the
// teacher used for I/O latency, retargeted at context-switch latency.
type Metrics struct {
	Dispatches      atomic.Uint64 // scheduler dispatch decisions
	ContextSwitches atomic.Uint64

	AllocOps      atomic.Uint64
	AllocFailures atomic.Uint64
	AllocBytes    atomic.Uint64
	FreeOps       atomic.Uint64
	FreeBytes     atomic.Uint64

	FrameAllocOps      atomic.Uint64
	FrameAllocFailures atomic.Uint64
	FramesAllocated    atomic.Uint64
	FrameFreeOps       atomic.Uint64
	FramesFreed        atomic.Uint64

	PageFaultsHandled   atomic.Uint64
	PageFaultsUnhandled atomic.Uint64

	FutexWaits    atomic.Uint64
	FutexWoken    atomic.Uint64
	FutexWakeOps  atomic.Uint64
	FutexWokeSum  atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// LatencyHist holds cumulative counts: LatencyHist[i] counts context
	// switches with latency <= LatencyBuckets[i].
	LatencyHist [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a fresh metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordDispatch records one scheduler dispatch decision.
func (m *Metrics) RecordDispatch() {
	m.Dispatches.Add(1)
}

// RecordContextSwitch records a context switch and its latency.
func (m *Metrics) RecordContextSwitch(latencyNs uint64) {
	m.ContextSwitches.Add(1)
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHist[i].Add(1)
		}
	}
}

// RecordAlloc records a heap allocation attempt.
func (m *Metrics) RecordAlloc(bytes uint64, success bool) {
	m.AllocOps.Add(1)
	if success {
		m.AllocBytes.Add(bytes)
	} else {
		m.AllocFailures.Add(1)
	}
}

// RecordFree records a heap free.
func (m *Metrics) RecordFree(bytes uint64) {
	m.FreeOps.Add(1)
	m.FreeBytes.Add(bytes)
}

// RecordFrameAlloc records a physical-frame allocation attempt.
func (m *Metrics) RecordFrameAlloc(frames int, success bool) {
	m.FrameAllocOps.Add(1)
	if success {
		m.FramesAllocated.Add(uint64(frames))
	} else {
		m.FrameAllocFailures.Add(1)
	}
}

// RecordFrameFree records frames returned to the allocator.
func (m *Metrics) RecordFrameFree(frames int) {
	m.FrameFreeOps.Add(1)
	m.FramesFreed.Add(uint64(frames))
}

// RecordPageFault records whether a page fault found a registered handler.
func (m *Metrics) RecordPageFault(handled bool) {
	if handled {
		m.PageFaultsHandled.Add(1)
	} else {
		m.PageFaultsUnhandled.Add(1)
	}
}

// RecordFutexWait records a futex wait, noting whether the caller actually
// blocked (woken=false means the value mismatched and it returned at once).
func (m *Metrics) RecordFutexWait(woken bool) {
	m.FutexWaits.Add(1)
	if woken {
		m.FutexWoken.Add(1)
	}
}

// RecordFutexWake records a wake call and how many waiters it woke.
func (m *Metrics) RecordFutexWake(count int) {
	m.FutexWakeOps.Add(1)
	m.FutexWokeSum.Add(uint64(count))
}

// Stop marks the kernel as shut down for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, plain-value copy of Metrics.
type MetricsSnapshot struct {
	Dispatches      uint64
	ContextSwitches uint64

	AllocOps      uint64
	AllocFailures uint64
	AllocBytes    uint64
	FreeOps       uint64
	FreeBytes     uint64

	FrameAllocOps      uint64
	FrameAllocFailures uint64
	FramesAllocated    uint64
	FrameFreeOps       uint64
	FramesFreed        uint64

	PageFaultsHandled   uint64
	PageFaultsUnhandled uint64

	FutexWaits   uint64
	FutexWoken   uint64
	FutexWakeOps uint64
	FutexWokeSum uint64

	AvgContextSwitchLatencyNs uint64
	LatencyP50Ns              uint64
	LatencyP99Ns              uint64
	LatencyP999Ns             uint64
	LatencyHistogram          [numLatencyBuckets]uint64

	UptimeNs uint64
}

// Snapshot copies the current counters into a MetricsSnapshot, computing
// average latency and percentile estimates from the histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Dispatches:          m.Dispatches.Load(),
		ContextSwitches:     m.ContextSwitches.Load(),
		AllocOps:            m.AllocOps.Load(),
		AllocFailures:       m.AllocFailures.Load(),
		AllocBytes:          m.AllocBytes.Load(),
		FreeOps:             m.FreeOps.Load(),
		FreeBytes:           m.FreeBytes.Load(),
		FrameAllocOps:       m.FrameAllocOps.Load(),
		FrameAllocFailures:  m.FrameAllocFailures.Load(),
		FramesAllocated:     m.FramesAllocated.Load(),
		FrameFreeOps:        m.FrameFreeOps.Load(),
		FramesFreed:         m.FramesFreed.Load(),
		PageFaultsHandled:   m.PageFaultsHandled.Load(),
		PageFaultsUnhandled: m.PageFaultsUnhandled.Load(),
		FutexWaits:          m.FutexWaits.Load(),
		FutexWoken:          m.FutexWoken.Load(),
		FutexWakeOps:        m.FutexWakeOps.Load(),
		FutexWokeSum:        m.FutexWokeSum.Load(),
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgContextSwitchLatencyNs = m.TotalLatencyNs.Load() / opCount
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHist[i].Load()
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHist[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHist[i-1].Load()
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

// Reset zeroes every counter (useful for testing).
func (m *Metrics) Reset() {
	*m = Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
}

// MetricsObserver implements interfaces.Observer by recording into a
// Metrics instance, keeping production code reporting events without
// depending on how they're aggregated.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveDispatch(cpu int, priority int) {
	o.metrics.RecordDispatch()
}

func (o *MetricsObserver) ObserveContextSwitch(latencyNs uint64) {
	o.metrics.RecordContextSwitch(latencyNs)
}

func (o *MetricsObserver) ObserveAlloc(bytes uint64, success bool) {
	o.metrics.RecordAlloc(bytes, success)
}

func (o *MetricsObserver) ObserveFree(bytes uint64) {
	o.metrics.RecordFree(bytes)
}

func (o *MetricsObserver) ObserveFrameAlloc(frames int, success bool) {
	o.metrics.RecordFrameAlloc(frames, success)
}

func (o *MetricsObserver) ObserveFrameFree(frames int) {
	o.metrics.RecordFrameFree(frames)
}

func (o *MetricsObserver) ObservePageFault(handled bool) {
	o.metrics.RecordPageFault(handled)
}

func (o *MetricsObserver) ObserveFutexWait(woken bool) {
	o.metrics.RecordFutexWait(woken)
}

func (o *MetricsObserver) ObserveFutexWake(count int) {
	o.metrics.RecordFutexWake(count)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
