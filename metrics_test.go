package utkcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsInitialSnapshotIsZero(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	assert.Zero(t, snap.Dispatches)
	assert.Zero(t, snap.ContextSwitches)
	assert.Zero(t, snap.AllocOps)
}

func TestMetricsAllocAndFree(t *testing.T) {
	m := NewMetrics()
	m.RecordAlloc(64, true)
	m.RecordAlloc(0, false)
	m.RecordFree(64)

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.AllocOps)
	assert.EqualValues(t, 1, snap.AllocFailures)
	assert.EqualValues(t, 64, snap.AllocBytes)
	assert.EqualValues(t, 1, snap.FreeOps)
	assert.EqualValues(t, 64, snap.FreeBytes)
}

func TestMetricsFrameAllocAndFree(t *testing.T) {
	m := NewMetrics()
	m.RecordFrameAlloc(4, true)
	m.RecordFrameAlloc(2, false)
	m.RecordFrameFree(4)

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.FrameAllocOps)
	assert.EqualValues(t, 1, snap.FrameAllocFailures)
	assert.EqualValues(t, 4, snap.FramesAllocated)
	assert.EqualValues(t, 4, snap.FramesFreed)
}

func TestMetricsPageFaultAndFutex(t *testing.T) {
	m := NewMetrics()
	m.RecordPageFault(true)
	m.RecordPageFault(false)
	m.RecordFutexWait(true)
	m.RecordFutexWait(false)
	m.RecordFutexWake(3)

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.PageFaultsHandled)
	assert.EqualValues(t, 1, snap.PageFaultsUnhandled)
	assert.EqualValues(t, 2, snap.FutexWaits)
	assert.EqualValues(t, 1, snap.FutexWoken)
	assert.EqualValues(t, 1, snap.FutexWakeOps)
	assert.EqualValues(t, 3, snap.FutexWokeSum)
}

func TestMetricsContextSwitchAverageLatency(t *testing.T) {
	m := NewMetrics()
	m.RecordContextSwitch(1_000_000) // 1ms
	m.RecordContextSwitch(2_000_000) // 2ms

	snap := m.Snapshot()
	assert.EqualValues(t, 1_500_000, snap.AvgContextSwitchLatencyNs)
}

func TestMetricsUptimeTracksStop(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)
	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	stopped := m.Snapshot()
	time.Sleep(5 * time.Millisecond)
	afterStop := m.Snapshot()
	assert.Equal(t, stopped.UptimeNs, afterStop.UptimeNs)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordAlloc(128, true)
	a := assert.New(t)
	a.NotZero(m.Snapshot().AllocOps)

	m.Reset()
	a.Zero(m.Snapshot().AllocOps)
	a.Zero(m.Snapshot().AllocBytes)
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 50; i++ {
		m.RecordContextSwitch(500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordContextSwitch(5_000_000) // 5ms
	}
	m.RecordContextSwitch(50_000_000) // 50ms, the P99 tail

	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.LatencyP50Ns, uint64(100_000))
	assert.LessOrEqual(t, snap.LatencyP50Ns, uint64(1_000_000))
	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
	assert.LessOrEqual(t, snap.LatencyP99Ns, uint64(100_000_000))

	var total uint64
	for _, c := range snap.LatencyHistogram {
		total += c
	}
	assert.NotZero(t, total)
}

func TestObserverForwardsToMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveDispatch(0, 10)
	o.ObserveContextSwitch(1_000_000)
	o.ObserveAlloc(64, true)
	o.ObserveFree(64)
	o.ObserveFrameAlloc(2, true)
	o.ObserveFrameFree(2)
	o.ObservePageFault(true)
	o.ObserveFutexWait(true)
	o.ObserveFutexWake(1)

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.Dispatches)
	assert.EqualValues(t, 1, snap.ContextSwitches)
	assert.EqualValues(t, 64, snap.AllocBytes)
	assert.EqualValues(t, 64, snap.FreeBytes)
	assert.EqualValues(t, 2, snap.FramesAllocated)
	assert.EqualValues(t, 2, snap.FramesFreed)
	assert.EqualValues(t, 1, snap.PageFaultsHandled)
	assert.EqualValues(t, 1, snap.FutexWoken)
	assert.EqualValues(t, 1, snap.FutexWokeSum)
}
