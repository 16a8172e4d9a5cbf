// Package interrupt implements the interrupt/exception dispatch core: a
// 256-entry vector table, IRQ line registration with mask/EOI delegated to
// an interfaces.InterruptDriver, and a disable/restore pair named after
// clearing and restoring EFLAGS.IF (it does no work in this simulation).
package interrupt

import (
	"sync"
	"sync/atomic"

	"github.com/oxmose/utkcore/internal/interfaces"
	"github.com/oxmose/utkcore/internal/kerrors"
	"github.com/oxmose/utkcore/internal/logging"
)

const (
	// VectorCount is the size of the dispatch table, matching a real x86
	// IDT's 256 entries.
	VectorCount = 256

	// VectorPanic, VectorSchedule and VectorSyscall are reserved software
	// vectors a caller cannot register a handler on directly.
	VectorPanic   = 0xFF
	VectorSchedule = 0xFE
	VectorSyscall  = 0x80

	// cpuExceptionVectorCount is the number of CPU-defined exception
	// vectors (0-31) - divide-by-zero, page fault, and the rest of the
	// architecture-reserved low vectors internal/exception wraps.
	cpuExceptionVectorCount = 32

	// EFlagsIF is the EFLAGS interrupt-enable bit (bit 9 on real x86).
	// Dispatch drops a device IRQ when this bit is clear in the saved
	// state, the same masking a real CPU applies before vectoring.
	EFlagsIF uint32 = 1 << 9
)

// Handler is invoked with the faulting/interrupting vector and the saved
// CPU register state.
type Handler func(vector int, cpu *CPUState)

// CPUState is the saved register snapshot an interrupt handler receives and
// may modify before the core resumes the interrupted context.
type CPUState struct {
	Registers [8]uint32 // general-purpose registers, architecture order
	EIP       uint32
	EFlags    uint32
	ErrorCode uint32 // populated only for vectors that push one
}

// Core is the interrupt/exception dispatch table for one CPU's IDT. Every
// logical CPU in the simulation shares the same table (a single IDT loaded
// identically on every CPU), so one Core instance serves all of them; the
// per-CPU state that does vary is the EFLAGS.IF bit, carried per call in the
// CPUState Dispatch receives rather than tracked here.
type Core struct {
	mu       sync.RWMutex
	handlers [VectorCount]Handler
	driver   interfaces.InterruptDriver
	observer interfaces.Observer
	logger   interfaces.Logger

	spuriousCount uint64
	panicCount    uint64
}

// New creates an interrupt core backed by driver for IRQ mask/EOI/spurious
// classification.
func New(driver interfaces.InterruptDriver, observer interfaces.Observer, logger interfaces.Logger) *Core {
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}
	c := &Core{driver: driver, observer: observer, logger: logger}
	logging.SetPanicHandler(func(msg string) {
		c.Dispatch(VectorPanic, &CPUState{})
		if logger != nil {
			logger.Printf("kernel panic dispatched: %s", msg)
		}
	})
	return c
}

func isReserved(vector int) bool {
	return vector == VectorPanic || vector == VectorSchedule || vector == VectorSyscall
}

// RegisterIntHandler installs handler for vector. Errors if vector is
// reserved, out of range, or already has a handler.
func (c *Core) RegisterIntHandler(vector int, handler Handler) error {
	if vector < 0 || vector >= VectorCount {
		return kerrors.New("REGISTER_INT_HANDLER", kerrors.OutOfBound, "vector out of range")
	}
	if isReserved(vector) {
		return kerrors.New("REGISTER_INT_HANDLER", kerrors.UnauthorizedInterruptLine, "vector is reserved")
	}
	if handler == nil {
		return kerrors.New("REGISTER_INT_HANDLER", kerrors.NullPointer, "nil handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[vector] != nil {
		return kerrors.New("REGISTER_INT_HANDLER", kerrors.InterruptAlreadyRegistered, "vector already has a handler")
	}
	c.handlers[vector] = handler
	return nil
}

// RemoveIntHandler uninstalls the handler at vector.
func (c *Core) RemoveIntHandler(vector int) error {
	if vector < 0 || vector >= VectorCount {
		return kerrors.New("REMOVE_INT_HANDLER", kerrors.OutOfBound, "vector out of range")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[vector] == nil {
		return kerrors.New("REMOVE_INT_HANDLER", kerrors.InterruptNotRegistered, "vector has no handler")
	}
	c.handlers[vector] = nil
	return nil
}

// RegisterIRQHandler is sugar over RegisterIntHandler for IRQ lines,
// resolving the IRQ to its vector through the driver.
func (c *Core) RegisterIRQHandler(irq int, handler Handler) error {
	vector := c.driver.GetIRQIntLine(irq)
	if vector < 0 {
		return kerrors.New("REGISTER_IRQ_HANDLER", kerrors.NoSuchIRQ, "irq not known to driver")
	}
	return c.RegisterIntHandler(vector, handler)
}

// RemoveIRQHandler is sugar over RemoveIntHandler for IRQ lines.
func (c *Core) RemoveIRQHandler(irq int) error {
	vector := c.driver.GetIRQIntLine(irq)
	if vector < 0 {
		return kerrors.New("REMOVE_IRQ_HANDLER", kerrors.NoSuchIRQ, "irq not known to driver")
	}
	return c.RemoveIntHandler(vector)
}

// SetIRQMask enables or disables delivery of irq at the driver.
func (c *Core) SetIRQMask(irq int, on bool) error {
	return c.driver.SetIRQMask(irq, on)
}

// SetIRQEOI signals end-of-interrupt for irq at the driver.
func (c *Core) SetIRQEOI(irq int) error {
	return c.driver.SetIRQEOI(irq)
}

// isAlwaysDeliverable reports whether vector bypasses EFLAGS.IF masking:
// the panic vector, the scheduler's software vector, and every CPU
// exception (0-31) are never dropped just because interrupts are disabled.
func isAlwaysDeliverable(vector int) bool {
	return vector == VectorPanic || vector == VectorSchedule || vector < cpuExceptionVectorCount
}

// Dispatch delivers vector to its registered handler. A device IRQ arriving
// while cpu.EFlags has IF clear is dropped silently, unless the vector is
// always-deliverable. The driver's own spurious classification is checked
// next; after that, a vector with no installed handler routes to the panic
// handler rather than being counted as spurious. Production code never
// calls Dispatch directly - it is invoked by the architecture trap entry
// point - but tests and the in-process simulation call it to drive the core
// end-to-end.
func (c *Core) Dispatch(vector int, cpu *CPUState) {
	if vector < 0 || vector >= VectorCount {
		atomic.AddUint64(&c.spuriousCount, 1)
		return
	}
	if vector == VectorPanic {
		c.runPanic(cpu)
		return
	}
	if !isAlwaysDeliverable(vector) && cpu != nil && cpu.EFlags&EFlagsIF == 0 {
		return
	}
	if c.driver != nil && c.driver.HandleSpurious(vector) {
		atomic.AddUint64(&c.spuriousCount, 1)
		return
	}

	c.mu.RLock()
	h := c.handlers[vector]
	c.mu.RUnlock()

	if h == nil {
		if c.logger != nil {
			c.logger.Printf("vector %d has no installed handler, routing to panic", vector)
		}
		c.runPanic(cpu)
		return
	}
	h(vector, cpu)
	c.observer.ObserveDispatch(0, 0)
}

// runPanic invokes whichever handler is installed on VectorPanic, if any,
// and counts the occurrence regardless. VectorPanic itself can never have a
// caller-registered handler (isReserved rejects it), so this never recurses
// back through Dispatch.
func (c *Core) runPanic(cpu *CPUState) {
	atomic.AddUint64(&c.panicCount, 1)

	c.mu.RLock()
	h := c.handlers[VectorPanic]
	c.mu.RUnlock()
	if h != nil {
		h(VectorPanic, cpu)
	}
	c.observer.ObserveDispatch(0, 0)
}

// SpuriousCount returns the number of interrupts dropped as spurious since
// creation.
func (c *Core) SpuriousCount() uint64 {
	return atomic.LoadUint64(&c.spuriousCount)
}

// PanicCount returns the number of times the panic vector has run, whether
// raised directly or reached by routing an unhandled vector there.
func (c *Core) PanicCount() uint64 {
	return atomic.LoadUint64(&c.panicCount)
}

// Disable stands for clearing EFLAGS.IF on the calling logical CPU; it
// changes no state, and callers pass the returned token to Restore.
func Disable() DisableToken {
	// Interrupt masking in this simulation is delegated entirely to
	// internal/critical's Section, which already serializes access to
	// every shared kernel object. Disable/Restore exist as the named
	// operation pair but do no additional work here - there is no
	// separate "current CPU" register to clear in a goroutine model.
	return DisableToken{}
}

// DisableToken is returned by Disable and consumed by Restore.
type DisableToken struct{}

// Restore is the inverse of Disable.
func (DisableToken) Restore() {}
