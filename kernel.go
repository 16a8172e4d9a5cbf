package utkcore

import (
	"runtime"
	"time"

	"github.com/oxmose/utkcore/internal/constants"
	"github.com/oxmose/utkcore/internal/exception"
	"github.com/oxmose/utkcore/internal/frame"
	"github.com/oxmose/utkcore/internal/futex"
	"github.com/oxmose/utkcore/internal/heap"
	"github.com/oxmose/utkcore/internal/interfaces"
	"github.com/oxmose/utkcore/internal/interrupt"
	"github.com/oxmose/utkcore/internal/ksync"
	"github.com/oxmose/utkcore/internal/logging"
	"github.com/oxmose/utkcore/internal/sched"
	"github.com/oxmose/utkcore/internal/syscall"
	"github.com/oxmose/utkcore/internal/vm"
)

// Config holds the parameters Boot needs to bring up a Kernel. The hardware
// abstraction seams (MMU, InterruptDriver) default to the in-process mocks
// from testing.go when left nil: this core simulates CPU-level dispatch
// rather than driving a real PIC/MMU (see DESIGN.md).
type Config struct {
	NumCPU          int
	MMU             interfaces.MMU
	InterruptDriver interfaces.InterruptDriver
	Logger          interfaces.Logger
	Observer        interfaces.Observer
}

// DefaultConfig returns sane defaults: one CPU per host logical processor
// (capped at constants.MaxCPU), mock hardware seams, and a metrics-backed
// observer.
func DefaultConfig() Config {
	numCPU := runtime.NumCPU()
	if numCPU > constants.MaxCPU {
		numCPU = constants.MaxCPU
	}
	if numCPU < 1 {
		numCPU = 1
	}
	return Config{
		NumCPU:          numCPU,
		MMU:             NewMockMMU(),
		InterruptDriver: NewMockInterruptDriver(nil),
		Logger:          logging.Default(),
	}
}

// Kernel wires every subsystem component (heap, frame table, virtual
// memory, interrupt/exception dispatch, scheduler, futex, sync, syscall
// dispatch) into one running instance, mirroring the role backend.go's
// Device played for a single ublk device.
type Kernel struct {
	cfg Config

	Heap       *heap.Heap
	Frames     *frame.Table
	VM         *vm.Mapper
	Interrupts *interrupt.Core
	Exceptions *exception.Core
	Scheduler  *sched.Scheduler
	Futex      *futex.Table
	Syscalls   *syscall.Table

	metrics  *Metrics
	observer interfaces.Observer

	started bool
}

// Boot constructs and wires every subsystem in dependency order: heap and
// frame table first (nothing else depends on anything), then virtual
// memory (needs frames), then interrupt/exception dispatch, then the
// scheduler, then futex and sync (need the scheduler), then syscall
// dispatch (needs all of the above). Mirrors backend.go's CreateAndServe
// staging (controller, then device info, then queue runners, then start).
func Boot(cfg Config) (*Kernel, error) {
	if cfg.NumCPU <= 0 {
		cfg.NumCPU = DefaultConfig().NumCPU
	}
	if cfg.MMU == nil {
		cfg.MMU = NewMockMMU()
	}
	if cfg.InterruptDriver == nil {
		cfg.InterruptDriver = NewMockInterruptDriver(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	metrics := NewMetrics()
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	h, err := heap.New(observer)
	if err != nil {
		return nil, err
	}

	frames, err := frame.New(observer)
	if err != nil {
		h.Close()
		return nil, err
	}

	mapper, err := vm.New(frames, cfg.MMU, observer)
	if err != nil {
		frames.Close()
		h.Close()
		return nil, err
	}

	interrupts := interrupt.New(cfg.InterruptDriver, observer, cfg.Logger)

	exceptions, err := exception.New(interrupts, func(cause sched.TerminationCause) {
		cfg.Logger.Printf("killing current thread: %s", cause)
	})
	if err != nil {
		frames.Close()
		h.Close()
		return nil, err
	}

	scheduler := sched.New(cfg.NumCPU, observer)
	futexTable := futex.New(scheduler)
	syscalls := syscall.New(scheduler, futexTable, frames)

	k := &Kernel{
		cfg:        cfg,
		Heap:       h,
		Frames:     frames,
		VM:         mapper,
		Interrupts: interrupts,
		Exceptions: exceptions,
		Scheduler:  scheduler,
		Futex:      futexTable,
		Syscalls:   syscalls,
		metrics:    metrics,
		observer:   observer,
		started:    true,
	}
	return k, nil
}

// Shutdown stops the scheduler's dispatch loops and releases the heap and
// frame-table arenas. It is safe to call at most once.
func (k *Kernel) Shutdown() {
	if k == nil || !k.started {
		return
	}
	k.Scheduler.Shutdown()
	k.Frames.Close()
	k.Heap.Close()
	k.metrics.Stop()
	k.started = false
}

// NewMutex creates a mutex bound to this kernel's futex table and
// scheduler, matching ksync.NewMutex's signature minus the repeated
// boilerplate of threading both through by hand. elevation is the ceiling
// priority to apply while the mutex is contended, or ksync.NoElevation.
func (k *Kernel) NewMutex(recursive bool, elevation int) *ksync.Mutex {
	return ksync.NewMutex(k.Futex, k.Scheduler, recursive, elevation)
}

// NewSemaphore creates a semaphore bound to this kernel's futex table.
func (k *Kernel) NewSemaphore(initial int32) *ksync.Semaphore {
	return ksync.NewSemaphore(k.Futex, initial)
}

// Metrics returns the kernel's metrics instance.
func (k *Kernel) Metrics() *Metrics {
	if k == nil {
		return nil
	}
	return k.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of the kernel's metrics.
func (k *Kernel) MetricsSnapshot() MetricsSnapshot {
	if k == nil || k.metrics == nil {
		return MetricsSnapshot{}
	}
	return k.metrics.Snapshot()
}

// KernelInfo is a point-in-time snapshot of kernel state, mirroring
// backend.go's DeviceInfo.
type KernelInfo struct {
	NumCPU      int
	ThreadCount int
	Uptime      time.Duration
	Running     bool
}

// Info returns a snapshot of the kernel's current state.
func (k *Kernel) Info() KernelInfo {
	if k == nil {
		return KernelInfo{}
	}
	snap := k.MetricsSnapshot()
	return KernelInfo{
		NumCPU:      k.cfg.NumCPU,
		ThreadCount: len(k.Scheduler.ThreadsInfo()),
		Uptime:      time.Duration(snap.UptimeNs),
		Running:     k.started,
	}
}
