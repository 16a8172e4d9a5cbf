// Package syscall implements the fixed user-to-kernel dispatch table: a
// small closed set of integer ids, each mapped to a
// function that reads a caller-supplied parameter struct and writes an
// error field back into it. Grounded on internal/ctrl/control.go's command
// dispatch and internal/uapi/constants.go's closed, numbered command sets,
// generalized from ublk's fixed UBLK_CMD_* table to this core's syscall ids.
package syscall

import (
	"github.com/oxmose/utkcore/internal/futex"
	"github.com/oxmose/utkcore/internal/kerrors"
	"github.com/oxmose/utkcore/internal/sched"
)

// ID is one of the closed set of syscall numbers the core accepts.
type ID int

const (
	Fork ID = iota
	Waitpid
	Exit
	FutexWait
	FutexWake
	SchedGetParams
	SchedSetParams
	PageAlloc

	idCount
)

// ForkParams is read by Fork: Entry/Arg describe the new thread's body,
// Priority/Affinity mirror sched.Spawn's scheduling hints. Result is
// written back with the spawned thread's id.
type ForkParams struct {
	Name     string
	Priority int
	Affinity int
	Entry    func(self *sched.Thread, arg any)
	Arg      any

	Result sched.ThreadID
	Error  error
}

// WaitpidParams is read by Waitpid: Target names the thread to join.
// Retval/State/Cause/Error are written back.
type WaitpidParams struct {
	Target ID32
	Gen    uint32

	Retval any
	State  sched.ReturnState
	Cause  sched.TerminationCause
	Error  error
}

// ID32 is a plain int32 index, kept distinct from sched.ThreadID so callers
// build the syscall params without importing internal/sched directly.
type ID32 = int32

// ExitParams is read by Exit: Cause/Retval describe how the calling thread
// terminates.
type ExitParams struct {
	Self   *sched.Thread
	Cause  sched.TerminationCause
	Retval any
	Error  error
}

// FutexWaitParams is read by FutexWait.
type FutexWaitParams struct {
	Self      *sched.Thread
	Addr      *uint32
	Expected  uint32
	OwnerDied bool
	Error     error
}

// FutexWakeParams is read by FutexWake.
type FutexWakeParams struct {
	Addr  *uint32
	Count int
	Woken int
	Error error
}

// SchedGetParamsArgs is read by SchedGetParams.
type SchedGetParamsArgs struct {
	Self     *sched.Thread
	Priority int
	Error    error
}

// SchedSetParamsArgs is read by SchedSetParams.
type SchedSetParamsArgs struct {
	Self     *sched.Thread
	Priority int
	Error    error
}

// PageAllocParams is read by PageAlloc.
type PageAllocParams struct {
	Frames int
	Phys   uint32
	Error  error
}

// handler reads and validates a caller-supplied params struct, invokes the
// requested operation, and writes its outcome back in place.
type handler func(table *Table, params any) error

// Table is the fixed dispatch table, one entry per ID. Validating id
// against the table size is the only safety check the dispatcher performs;
// each handler validates its own params struct.
type Table struct {
	sched  *sched.Scheduler
	futex  *futex.Table
	frames FrameAllocator
	fns    [idCount]handler
}

// FrameAllocator is the subset of *frame.Table the PageAlloc syscall needs,
// named here to avoid a direct dependency on internal/frame's concrete type.
type FrameAllocator interface {
	AllocKFrames(n int) (uint32, error)
}

// New builds the dispatch table bound to the given subsystems.
func New(s *sched.Scheduler, f *futex.Table, frames FrameAllocator) *Table {
	t := &Table{sched: s, futex: f, frames: frames}
	t.fns[Fork] = handleFork
	t.fns[Waitpid] = handleWaitpid
	t.fns[Exit] = handleExit
	t.fns[FutexWait] = handleFutexWait
	t.fns[FutexWake] = handleFutexWake
	t.fns[SchedGetParams] = handleSchedGetParams
	t.fns[SchedSetParams] = handleSchedSetParams
	t.fns[PageAlloc] = handlePageAlloc
	return t
}

// Dispatch validates id against the table size and invokes the bound
// handler, returning SyscallUnknown for an out-of-range id and otherwise the
// handler's own error. A handler rejects a params struct of the wrong type
// with IncorrectValue, returned only; any other error it returns has also
// been written into the params struct's Error field.
func (t *Table) Dispatch(id ID, params any) error {
	if id < 0 || id >= idCount {
		return kerrors.New("SYSCALL", kerrors.SyscallUnknown, "unknown syscall id")
	}
	fn := t.fns[id]
	if fn == nil {
		return kerrors.New("SYSCALL", kerrors.SyscallUnknown, "unknown syscall id")
	}
	return fn(t, params)
}

func handleFork(t *Table, params any) error {
	p, ok := params.(*ForkParams)
	if !ok {
		return kerrors.New("SYSCALL_FORK", kerrors.IncorrectValue, "wrong params type")
	}
	id, err := t.sched.Spawn(nil, p.Name, sched.UserThread, p.Priority, p.Affinity, p.Entry, p.Arg)
	p.Result = id
	p.Error = err
	return err
}

func handleWaitpid(t *Table, params any) error {
	p, ok := params.(*WaitpidParams)
	if !ok {
		return kerrors.New("SYSCALL_WAITPID", kerrors.IncorrectValue, "wrong params type")
	}
	retval, state, cause, err := t.sched.Join(sched.ThreadID{Index: p.Target, Generation: p.Gen})
	p.Retval, p.State, p.Cause, p.Error = retval, state, cause, err
	return err
}

func handleExit(t *Table, params any) error {
	p, ok := params.(*ExitParams)
	if !ok {
		return kerrors.New("SYSCALL_EXIT", kerrors.IncorrectValue, "wrong params type")
	}
	if p.Self == nil {
		p.Error = kerrors.New("SYSCALL_EXIT", kerrors.NullPointer, "nil self")
		return p.Error
	}
	t.sched.Terminate(p.Self, p.Cause)
	return nil
}

func handleFutexWait(t *Table, params any) error {
	p, ok := params.(*FutexWaitParams)
	if !ok {
		return kerrors.New("SYSCALL_FUTEX_WAIT", kerrors.IncorrectValue, "wrong params type")
	}
	if p.Self == nil || p.Addr == nil {
		p.Error = kerrors.New("SYSCALL_FUTEX_WAIT", kerrors.NullPointer, "nil self or address")
		return p.Error
	}
	ownerDied, err := t.futex.Wait(p.Self, p.Addr, p.Expected)
	p.OwnerDied, p.Error = ownerDied, err
	return err
}

func handleFutexWake(t *Table, params any) error {
	p, ok := params.(*FutexWakeParams)
	if !ok {
		return kerrors.New("SYSCALL_FUTEX_WAKE", kerrors.IncorrectValue, "wrong params type")
	}
	if p.Addr == nil {
		p.Error = kerrors.New("SYSCALL_FUTEX_WAKE", kerrors.NullPointer, "nil address")
		return p.Error
	}
	n, err := t.futex.Wake(p.Addr, p.Count)
	p.Woken, p.Error = n, err
	return err
}

func handleSchedGetParams(t *Table, params any) error {
	p, ok := params.(*SchedGetParamsArgs)
	if !ok {
		return kerrors.New("SYSCALL_SCHED_GET_PARAMS", kerrors.IncorrectValue, "wrong params type")
	}
	if p.Self == nil {
		p.Error = kerrors.New("SYSCALL_SCHED_GET_PARAMS", kerrors.NullPointer, "nil self")
		return p.Error
	}
	p.Priority = t.sched.GetPriority(p.Self)
	return nil
}

func handleSchedSetParams(t *Table, params any) error {
	p, ok := params.(*SchedSetParamsArgs)
	if !ok {
		return kerrors.New("SYSCALL_SCHED_SET_PARAMS", kerrors.IncorrectValue, "wrong params type")
	}
	if p.Self == nil {
		p.Error = kerrors.New("SYSCALL_SCHED_SET_PARAMS", kerrors.NullPointer, "nil self")
		return p.Error
	}
	err := t.sched.SetPriority(p.Self, p.Priority)
	p.Error = err
	return err
}

func handlePageAlloc(t *Table, params any) error {
	p, ok := params.(*PageAllocParams)
	if !ok {
		return kerrors.New("SYSCALL_PAGE_ALLOC", kerrors.IncorrectValue, "wrong params type")
	}
	phys, err := t.frames.AllocKFrames(p.Frames)
	p.Phys, p.Error = phys, err
	return err
}
