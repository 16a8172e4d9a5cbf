// Package interfaces provides internal interface definitions for the kernel
// core. These are separate from the root package's interfaces to avoid
// circular imports between it and the internal packages that need them.
package interfaces

// MMU abstracts the architecture-specific escape hatches the virtual-memory
// component needs: loading the active page directory, invalidating a single
// TLB entry, and reading the faulting address that a real CPU would have
// placed in CR2. A production build backs this with inline assembly; tests
// and the in-process simulation back it with a plain struct.
type MMU interface {
	LoadDirectory(physFrame uint32)
	InvalidatePage(virt uint32)
	FaultAddress() uint32
}

// InterruptDriver is the shim a device layer (PIC, IO-APIC, ...) provides to
// the interrupt core. It says nothing about hardware, which is what lets
// the core swap controllers without change.
type InterruptDriver interface {
	SetIRQMask(irq int, on bool) error
	SetIRQEOI(irq int) error
	// HandleSpurious classifies a vector as spurious (true) or regular
	// (false); spurious interrupts are counted but never dispatched.
	HandleSpurious(vector int) bool
	// GetIRQIntLine maps an IRQ to its vector, or -1 if the IRQ is
	// unknown to this driver.
	GetIRQIntLine(irq int) int
}

// Logger is the minimal logging surface internal packages depend on, kept
// separate from the concrete *logging.Logger so packages can be tested with
// a stub.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer is the metrics-collection surface internal packages report to.
// Implementations must be thread-safe: methods are called from scheduler,
// futex and page-fault hot paths running on multiple CPUs concurrently.
type Observer interface {
	ObserveDispatch(cpu int, priority int)
	ObserveContextSwitch(latencyNs uint64)
	ObserveAlloc(bytes uint64, success bool)
	ObserveFree(bytes uint64)
	ObserveFrameAlloc(frames int, success bool)
	ObserveFrameFree(frames int)
	ObservePageFault(handled bool)
	ObserveFutexWait(woken bool)
	ObserveFutexWake(count int)
}

// NoOpObserver discards every event. Components fall back to it when no
// observer is supplied, so hot paths never need a nil check.
type NoOpObserver struct{}

func (NoOpObserver) ObserveDispatch(int, int)     {}
func (NoOpObserver) ObserveContextSwitch(uint64)  {}
func (NoOpObserver) ObserveAlloc(uint64, bool)    {}
func (NoOpObserver) ObserveFree(uint64)           {}
func (NoOpObserver) ObserveFrameAlloc(int, bool)  {}
func (NoOpObserver) ObserveFrameFree(int)         {}
func (NoOpObserver) ObservePageFault(bool)        {}
func (NoOpObserver) ObserveFutexWait(bool)        {}
func (NoOpObserver) ObserveFutexWake(int)         {}

var _ Observer = NoOpObserver{}
