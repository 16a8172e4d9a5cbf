// Package exception is a thin wrapper over internal/interrupt restricted to
// the first 32 vectors, the CPU-defined exceptions rather than device IRQs
// or software vectors. It seeds one handler out of the box: divide-by-zero
// calls the KillCurrent function given to New with sched.CauseDivByZero.
package exception

import (
	"github.com/oxmose/utkcore/internal/interrupt"
	"github.com/oxmose/utkcore/internal/kerrors"
	"github.com/oxmose/utkcore/internal/sched"
)

const (
	VectorDivideByZero = 0x00
	VectorPageFault    = 0x0E

	exceptionVectorCount = 32
)

// Core registers and dispatches exception handlers on top of an
// interrupt.Core, rejecting vectors outside the CPU-exception range.
type Core struct {
	interrupts *interrupt.Core
}

// KillCurrent is called by the seeded divide-by-zero handler with the
// termination cause. The function Kernel.Boot supplies logs the cause and
// does not terminate any thread. New replaces a nil KillCurrent with a
// no-op, so exception.Core can be exercised in isolation.
type KillCurrent func(cause sched.TerminationCause)

// New wraps interrupts and installs the divide-by-zero handler.
func New(interrupts *interrupt.Core, killCurrent KillCurrent) (*Core, error) {
	c := &Core{interrupts: interrupts}
	if killCurrent == nil {
		killCurrent = func(sched.TerminationCause) {}
	}
	err := c.Register(VectorDivideByZero, func(vector int, cpu *interrupt.CPUState) {
		killCurrent(sched.CauseDivByZero)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Register installs handler for an exception vector (0-31). Vector
// VectorPageFault is reserved for internal/vm, which owns page-fault
// registration end to end; Register itself does not special-case it here,
// the ownership is a convention, not an enforced rule.
func (c *Core) Register(vector int, handler interrupt.Handler) error {
	if vector < 0 || vector >= exceptionVectorCount {
		return kerrors.New("EXCEPTION_REGISTER", kerrors.OutOfBound, "vector is not a CPU exception")
	}
	return c.interrupts.RegisterIntHandler(vector, handler)
}

// Remove uninstalls an exception handler.
func (c *Core) Remove(vector int) error {
	if vector < 0 || vector >= exceptionVectorCount {
		return kerrors.New("EXCEPTION_REMOVE", kerrors.OutOfBound, "vector is not a CPU exception")
	}
	return c.interrupts.RemoveIntHandler(vector)
}

// Raise dispatches vector as if the CPU had faulted, for tests and the
// in-process simulation.
func (c *Core) Raise(vector int, cpu *interrupt.CPUState) {
	c.interrupts.Dispatch(vector, cpu)
}
