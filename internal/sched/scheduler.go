package sched

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oxmose/utkcore/internal/constants"
	"github.com/oxmose/utkcore/internal/critical"
	"github.com/oxmose/utkcore/internal/interfaces"
	"github.com/oxmose/utkcore/internal/kerrors"
	"github.com/oxmose/utkcore/internal/queue"
)

// cpu holds the per-logical-CPU ready queue and dispatch-loop plumbing.
// Threads are not migrated between CPU queues once assigned, without the
// generality of full work-stealing.
type cpu struct {
	id      int
	ready   *queue.Queue
	idle    *Thread
	running *Thread
	wake    chan struct{} // signalled to let the dispatch loop re-evaluate
}

// Scheduler owns every thread's lifecycle: the id arena, per-CPU ready
// queues, the sleeper queue, and the dispatch loops.
type Scheduler struct {
	sec critical.Section

	threads   []*Thread
	freeSlots []int32
	generations []uint32

	cpus     [constants.MaxCPU]*cpu
	sleepers *queue.Queue // ordered by wakeup time ascending

	observer interfaces.Observer
	stop     chan struct{}
	wg       sync.WaitGroup

	ticks uint64 // global TICK_HZ counter, independent of any one CPU's dispatch loop
}

// New creates a scheduler with numCPU logical CPUs, each running its own
// idle thread, and starts the per-CPU dispatch loops.
func New(numCPU int, observer interfaces.Observer) *Scheduler {
	if numCPU <= 0 || numCPU > constants.MaxCPU {
		numCPU = constants.MaxCPU
	}
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}
	s := &Scheduler{
		sleepers: queue.New(),
		observer: observer,
		stop:     make(chan struct{}),
	}

	for i := 0; i < numCPU; i++ {
		c := &cpu{id: i, ready: queue.New(), wake: make(chan struct{}, 1)}
		idle := s.newThreadLocked("idle", KernelThread, constants.IdlePriority, i, func(self *Thread, arg any) {
			<-s.stop
		}, nil)
		idle.cpu = i
		idle.state = StateReady
		c.idle = idle
		s.cpus[i] = c
		go func(th *Thread) {
			<-th.wake
			th.entry(th, th.arg)
		}(idle)

		s.wg.Add(1)
		go s.dispatchLoop(c)
	}

	s.wg.Add(1)
	go s.tickLoop()
	return s
}

// tickLoop advances the global TICK_HZ counter, independent of any one CPU's
// dispatch loop - it is the single clock Sleep's deadlines and the overall
// tick count are measured against.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(constants.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			atomic.AddUint64(&s.ticks, 1)
		}
	}
}

// Ticks returns the number of TICK_HZ ticks elapsed since the scheduler
// started.
func (s *Scheduler) Ticks() uint64 {
	return atomic.LoadUint64(&s.ticks)
}

// Shutdown stops every dispatch loop and waits for them to exit.
func (s *Scheduler) Shutdown() {
	close(s.stop)
	s.wg.Wait()
}

// dispatchLoop is the per-CPU scheduling loop: pin to an OS thread and this
// CPU's affinity, then service one logical stream of work at a time.
func (s *Scheduler) dispatchLoop(c *cpu) {
	defer s.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var mask unix.CPUSet
	mask.Set(c.id % runtime.NumCPU())
	_ = unix.SchedSetaffinity(0, &mask) // best effort; not fatal if denied

	ticker := time.NewTicker(constants.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		next := s.pickNext(c)
		start := time.Now()
		c.running = next
		next.state = StateRunning
		if next.startedAt.IsZero() {
			next.startedAt = start
		}
		s.observer.ObserveDispatch(c.id, next.priority)

		select {
		case next.wake <- struct{}{}:
		default:
		}

		// A real CPU's timer tick would force the running thread off
		// the core; a goroutine cannot be halted from outside, so a
		// tick here only advances the dispatch loop's bookkeeping -
		// next keeps running in the background until it reaches its
		// own yield point (Sleep, LockThread, or return). Any thread
		// that never yields therefore keeps its host OS thread busy
		// past its nominal quantum, same tradeoff every cooperative
		// userspace scheduler in a managed runtime accepts.
		select {
		case <-next.done:
		case <-c.wake:
		case <-ticker.C:
		case <-s.stop:
			return
		}
		s.observer.ObserveContextSwitch(uint64(time.Since(start).Nanoseconds()))
	}
}

// pickNext pops the highest-priority ready thread for c, falling back to
// its idle thread, and also promotes any sleeper whose deadline has passed.
func (s *Scheduler) pickNext(c *cpu) *Thread {
	tok := s.sec.Enter()
	defer tok.Exit()

	s.wakeDueSleepersLocked()

	node := c.ready.Pop()
	if node == nil {
		return c.idle
	}
	th := node.Data.(*Thread)
	th.node = nil
	queue.PutNode(node)
	return th
}

func (s *Scheduler) wakeDueSleepersLocked() {
	now := time.Now()
	for {
		n := s.sleepers.Peek()
		if n == nil {
			return
		}
		th := n.Data.(*Thread)
		if th.wakeupAt.After(now) {
			return
		}
		s.sleepers.Pop()
		th.node = nil
		s.readyLocked(th)
	}
}

// readyLocked moves th into StateReady and pushes it onto its assigned
// CPU's queue. Caller must hold sec.
func (s *Scheduler) readyLocked(th *Thread) {
	th.state = StateReady
	node := queue.GetNode(th)
	th.node = node
	c := s.cpus[th.cpu]
	_ = c.ready.PushPriority(node, th.priority)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func leastLoadedCPU(cpus [constants.MaxCPU]*cpu, n int) int {
	best, bestLen := 0, -1
	for i := 0; i < n; i++ {
		if cpus[i] == nil {
			continue
		}
		l := cpus[i].ready.Len()
		if bestLen == -1 || l < bestLen {
			best, bestLen = i, l
		}
	}
	return best
}

func (s *Scheduler) numCPUs() int {
	n := 0
	for _, c := range s.cpus {
		if c != nil {
			n++
		}
	}
	return n
}

// newThreadLocked allocates a thread slot from the arena. Caller must hold
// sec if called after New (New calls it before any goroutine starts).
func (s *Scheduler) newThreadLocked(name string, typ ThreadType, priority, affinity int, entry func(*Thread, any), arg any) *Thread {
	th := &Thread{
		name:            name,
		typ:             typ,
		initialPriority: priority,
		priority:        priority,
		entry:           entry,
		arg:             arg,
		children:        make(map[ThreadID]struct{}),
		affinity:        affinity,
		wake:            make(chan struct{}, 1),
		done:            make(chan struct{}),
	}

	var index int32
	if n := len(s.freeSlots); n > 0 {
		index = s.freeSlots[n-1]
		s.freeSlots = s.freeSlots[:n-1]
		s.threads[index] = th
	} else {
		index = int32(len(s.threads))
		s.threads = append(s.threads, th)
		s.generations = append(s.generations, 0)
	}
	th.id = ThreadID{Index: index, Generation: s.generations[index]}
	return th
}

// lookupLocked resolves a ThreadID to its Thread, or nil if the id is stale
// (slot recycled, generation mismatch) or unknown.
func (s *Scheduler) lookupLocked(id ThreadID) *Thread {
	if id.Index < 0 || int(id.Index) >= len(s.threads) {
		return nil
	}
	if s.generations[id.Index] != id.Generation {
		return nil
	}
	return s.threads[id.Index]
}

// Spawn creates a new thread and makes it READY. affinity of -1 lets the
// scheduler pick the least-loaded CPU; otherwise it pins to that CPU.
// parent may be nil for the first threads created before any thread exists
// to spawn them from (e.g. Kernel.Boot's initial thread).
func (s *Scheduler) Spawn(parent *Thread, name string, typ ThreadType, priority int, affinity int, entry func(self *Thread, arg any), arg any) (ThreadID, error) {
	if !validPriority(priority) {
		return ThreadID{}, errForbiddenPriority
	}
	if entry == nil {
		return ThreadID{}, kerrors.New("SPAWN", kerrors.NullPointer, "nil entry")
	}

	tok := s.sec.Enter()
	n := s.numCPUs()
	if affinity < 0 || affinity >= n {
		affinity = leastLoadedCPU(s.cpus, n)
	}
	th := s.newThreadLocked(name, typ, priority, affinity, entry, arg)
	th.cpu = affinity
	if parent != nil {
		th.parent = parent.id
		parent.children[th.id] = struct{}{}
	}
	s.readyLocked(th)
	tok.Exit()

	go func() {
		<-th.wake
		th.entry(th, th.arg)
		s.terminate(th, Returned, CauseNormal, nil)
	}()

	return th.id, nil
}

// Sleep puts the calling thread to sleep for d, registering it on the
// sleeper queue keyed by wakeup deadline. Must be called from inside the
// entry function of a thread spawned by this scheduler.
func (s *Scheduler) Sleep(th *Thread, d time.Duration) {
	tok := s.sec.Enter()
	th.state = StateSleeping
	th.wakeupAt = time.Now().Add(d)
	node := queue.GetNode(th)
	th.node = node
	_ = s.sleepers.PushPriority(node, int(th.wakeupAt.UnixNano()))
	tok.Exit()

	s.yieldAndWait(th)
}

// yieldAndWait signals the owning CPU's dispatch loop to move on and blocks
// the calling goroutine until it is dispatched again.
func (s *Scheduler) yieldAndWait(th *Thread) {
	c := s.cpus[th.cpu]
	select {
	case c.wake <- struct{}{}:
	default:
	}
	<-th.wake
}

// Terminate marks th as exited with the given cause, waking any joiners.
func (s *Scheduler) Terminate(th *Thread, cause TerminationCause) {
	s.terminate(th, Killed, cause, nil)
}

func (s *Scheduler) terminate(th *Thread, rs ReturnState, cause TerminationCause, retval any) {
	tok := s.sec.Enter()
	th.state = StateZombie
	th.returnState = rs
	th.cause = cause
	th.retval = retval
	th.endedAt = time.Now()
	res := th.resources
	th.resources = nil
	tok.Exit()

	// Reverse order of registration: the most recently acquired resource
	// (e.g. the innermost held lock, the newest futex wait record) is
	// released first, mirroring how a thread would have unwound them itself.
	for i := len(res) - 1; i >= 0; i-- {
		res[i].cleanup(res[i].payload)
	}

	close(th.done)
}

// Join blocks the calling goroutine until target has exited, then frees its
// arena slot (bumping the generation so the old ThreadID becomes stale).
func (s *Scheduler) Join(target ThreadID) (any, ReturnState, TerminationCause, error) {
	tok := s.sec.Enter()
	th := s.lookupLocked(target)
	tok.Exit()
	if th == nil {
		return nil, ReturnNone, CauseNone, kerrors.New("JOIN", kerrors.NoSuchID, "unknown or stale thread id")
	}

	<-th.done

	tok = s.sec.Enter()
	retval, rs, cause := th.retval, th.returnState, th.cause
	s.generations[target.Index]++
	s.threads[target.Index] = nil
	s.freeSlots = append(s.freeSlots, target.Index)
	tok.Exit()

	return retval, rs, cause, nil
}

// SetPriority changes th's base priority, re-sorting it in its ready queue
// if currently READY.
func (s *Scheduler) SetPriority(th *Thread, priority int) error {
	if !validPriority(priority) {
		return errForbiddenPriority
	}
	tok := s.sec.Enter()
	defer tok.Exit()

	boosted := th.priority < th.initialPriority
	th.initialPriority = priority
	if !boosted || priority < th.priority {
		// Only drop to the new (lower) priority immediately if nothing is
		// currently inheriting a boost into th; an elevated priority from
		// ksync's inheritance stays in effect until released there.
		th.priority = priority
	}
	if th.state == StateReady && th.node != nil {
		c := s.cpus[th.cpu]
		_ = c.ready.Remove(th.node)
		queue.PutNode(th.node)
		th.node = nil
		s.readyLocked(th)
	}
	return nil
}

// GetPriority returns th's current effective priority.
func (s *Scheduler) GetPriority(th *Thread) int {
	tok := s.sec.Enter()
	defer tok.Exit()
	return th.priority
}

// Elevate raises th's effective priority for priority inheritance,
// returning the priority to restore once the inheriting lock is released.
func (s *Scheduler) Elevate(th *Thread, priority int) (restore int) {
	tok := s.sec.Enter()
	defer tok.Exit()
	restore = th.priority
	if priority < th.priority {
		th.priority = priority
	}
	return restore
}

// Restore sets th's effective priority back to a value saved by Elevate.
func (s *Scheduler) Restore(th *Thread, priority int) {
	tok := s.sec.Enter()
	th.priority = priority
	tok.Exit()
}

// LockThread transitions the calling thread th into StateWaiting with the
// given reason and yields the CPU. The caller (internal/futex,
// internal/ksync) is responsible for having already recorded th wherever it
// needs to be woken from (a futex waiter queue, a mutex's wait list) before
// calling this - once it returns the thread is asleep and cannot add
// itself to anything further until UnlockThread is called for it.
func (s *Scheduler) LockThread(th *Thread, reason WaitType) {
	tok := s.sec.Enter()
	th.state = StateWaiting
	th.waitType = reason
	tok.Exit()

	s.yieldAndWait(th)
}

// UnlockThread transitions th from StateWaiting back to StateReady and
// re-enqueues it on its CPU's ready queue. Safe to call from any thread,
// including ones running on a different CPU than th.
func (s *Scheduler) UnlockThread(th *Thread) {
	tok := s.sec.Enter()
	if th.state != StateWaiting {
		tok.Exit()
		return
	}
	th.waitType = WaitNone
	s.readyLocked(th)
	tok.Exit()
}

// Self-service accessors the entry function needs once dispatched.
func (s *Scheduler) TID(th *Thread) ThreadID  { return th.id }
func (s *Scheduler) PTID(th *Thread) ThreadID { return th.parent }

// AddResource registers payload on th's cleanup list, to be released by
// cleanup(payload) if th terminates before RemoveResource is called for it -
// a held mutex, an open futex wait record, anything that must not outlive
// the thread.
func (s *Scheduler) AddResource(th *Thread, payload any, cleanup func(any)) {
	tok := s.sec.Enter()
	th.resources = append(th.resources, resource{payload: payload, cleanup: cleanup})
	tok.Exit()
}

// RemoveResource drops payload from th's cleanup list, searching from the
// most recently added entry since registration and removal are typically
// LIFO-paired (acquire, then release in reverse).
func (s *Scheduler) RemoveResource(th *Thread, payload any) {
	tok := s.sec.Enter()
	for i := len(th.resources) - 1; i >= 0; i-- {
		if th.resources[i].payload == payload {
			th.resources = append(th.resources[:i], th.resources[i+1:]...)
			break
		}
	}
	tok.Exit()
}

// ThreadInfo is a read-only snapshot returned by ThreadsInfo.
type ThreadInfo struct {
	ID       ThreadID
	Name     string
	Priority int
	State    State
	CPU      int
}

// ThreadsInfo returns a snapshot of every live thread, for introspection.
func (s *Scheduler) ThreadsInfo() []ThreadInfo {
	tok := s.sec.Enter()
	defer tok.Exit()

	out := make([]ThreadInfo, 0, len(s.threads))
	for _, th := range s.threads {
		if th == nil {
			continue
		}
		out = append(out, ThreadInfo{ID: th.id, Name: th.name, Priority: th.priority, State: th.state, CPU: th.cpu})
	}
	return out
}
