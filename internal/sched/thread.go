// Package sched implements the priority-based preemptive thread scheduler.
// Each logical CPU runs as one goroutine pinned to an OS thread with
// runtime.LockOSThread + golang.org/x/sys/unix's SchedSetaffinity, the same
// pinning idiom a queue runner uses so its per-queue I/O loop gets a stable
// affinity; here it is what lets "CPU N" mean something concrete instead of
// an arbitrary goroutine.
package sched

import (
	"time"

	"github.com/oxmose/utkcore/internal/constants"
	"github.com/oxmose/utkcore/internal/kerrors"
	"github.com/oxmose/utkcore/internal/queue"
)

// ThreadType distinguishes kernel-mode from user-mode threads.
type ThreadType int

const (
	KernelThread ThreadType = iota
	UserThread
)

// State is a thread's scheduling state.
type State int

const (
	StateRunning State = iota
	StateReady
	StateSleeping
	StateDead
	StateZombie
	StateJoining
	StateWaiting
)

// WaitType records why a thread is in StateWaiting.
type WaitType int

const (
	WaitNone WaitType = iota
	WaitSemaphore
	WaitMutex
	WaitIOKeyboard
	WaitResource
)

// ReturnState records how a joined thread ended.
type ReturnState int

const (
	ReturnNone ReturnState = iota
	Returned
	Killed
)

// TerminationCause records why a thread was killed.
type TerminationCause int

const (
	CauseNone TerminationCause = iota
	CauseNormal
	CauseDivByZero
	CausePanic
)

func (c TerminationCause) String() string {
	switch c {
	case CauseNormal:
		return "normal exit"
	case CauseDivByZero:
		return "divide by zero"
	case CausePanic:
		return "kernel panic"
	default:
		return "none"
	}
}

// ThreadID identifies a thread for its lifetime. Unlike a plain per-command
// id, this is exposed across goroutine boundaries (join, signal delivery,
// threads_info snapshots), so it pairs an arena index with a generation
// counter: a stale ID from a thread that has since exited and whose slot
// was recycled is detectable rather than silently resolving to an unrelated
// thread.
type ThreadID struct {
	Index      int32
	Generation uint32
}

// Thread is one schedulable unit of execution.
type Thread struct {
	id       ThreadID
	parent   ThreadID
	name     string
	typ      ThreadType
	initialPriority int
	priority int // current, possibly inheritance-elevated
	state    State
	waitType WaitType
	returnState ReturnState
	cause    TerminationCause

	entry func(self *Thread, arg any)
	arg   any
	retval any

	storage [constants.ThreadStorageSize]byte

	wakeupAt time.Time
	node     *queue.Node // this thread's membership in whichever queue currently holds it

	children map[ThreadID]struct{}
	resources []resource // registration order; reaped in reverse on termination

	affinity int // -1 means any CPU

	startedAt time.Time
	endedAt   time.Time

	cpu  int
	wake chan struct{} // signalled by the owning CPU's dispatch loop to let this goroutine run
	done chan struct{} // closed once the thread reaches StateZombie
}

// resource is one entry on a thread's cleanup list: an opaque payload plus
// the function that releases it, run when the thread terminates.
type resource struct {
	payload any
	cleanup func(any)
}

// ID returns the thread's stable identifier.
func (t *Thread) ID() ThreadID { return t.id }

// ParentID returns the id of the thread that spawned this one.
func (t *Thread) ParentID() ThreadID { return t.parent }

// Name returns the thread's human-readable name.
func (t *Thread) Name() string { return t.name }

// Priority returns the thread's current (possibly inherited) priority.
func (t *Thread) Priority() int {
	return t.priority
}

// State returns the thread's current scheduling state.
func (t *Thread) State() State { return t.state }

// validPriority reports whether p is in [HighestPriority, LowestPriority].
func validPriority(p int) bool {
	return p >= constants.HighestPriority && p <= constants.LowestPriority
}

var errForbiddenPriority = kerrors.New("THREAD", kerrors.ForbiddenPriority, "priority out of range")
