// Package ksync implements the mutex and semaphore primitives layered on
// internal/futex, mirroring how a real futex-based pthread mutex works: a
// fast CAS path, falling back to a syscall (here, a Table Wait/Wake pair)
// only when actually contended.
package ksync

import (
	"sync/atomic"
	"unsafe"

	"github.com/oxmose/utkcore/internal/futex"
	"github.com/oxmose/utkcore/internal/kerrors"
	"github.com/oxmose/utkcore/internal/sched"
)

// levelAsUint32Ptr reinterprets a semaphore's signed level as the uint32
// word futex.Table expects; the bit pattern is what matters to Wait/Wake,
// not the signedness.
func levelAsUint32Ptr(level *int32) unsafe.Pointer {
	return unsafe.Pointer(level)
}

// Mutex states.
const (
	mutexUnlocked uint32 = iota
	mutexLocked
	mutexLockedWait
	mutexWaitInit
	mutexDestroyed
)

// NoElevation disables priority elevation when passed as NewMutex's
// elevation argument.
const NoElevation = -1

// Mutex is a futex-backed lock, optionally recursive and optionally
// priority-elevating.
type Mutex struct {
	state     uint32
	owner     atomic.Pointer[sched.Thread]
	recursion uint32
	recursive bool

	elevation    int // configured ceiling priority, or NoElevation
	savedPrio    int
	hasSavedPrio bool

	futex *futex.Table
	sched *sched.Scheduler
}

// NewMutex creates a mutex. recursive allows the owning thread to lock it
// again without deadlocking itself. elevation, if not NoElevation, is a
// ceiling priority: while the mutex is held and contended, the owner's
// priority is boosted to min(current, elevation), preventing priority
// inversion from a lower-priority holder blocking a higher-priority waiter.
func NewMutex(f *futex.Table, s *sched.Scheduler, recursive bool, elevation int) *Mutex {
	return &Mutex{futex: f, sched: s, recursive: recursive, elevation: elevation}
}

// Lock acquires the mutex, blocking self if already held.
func (m *Mutex) Lock(self *sched.Thread) error {
	for {
		state := atomic.LoadUint32(&m.state)
		if state == mutexDestroyed {
			return kerrors.New("MUTEX_LOCK", kerrors.NotInitialized, "mutex destroyed")
		}

		if m.recursive && state != mutexUnlocked && m.owner.Load() == self {
			m.recursion++
			return nil
		}

		if atomic.CompareAndSwapUint32(&m.state, mutexUnlocked, mutexLocked) {
			m.owner.Store(self)
			m.recursion = 1
			return nil
		}

		// Contended: mark LOCKED_WAIT so the unlocker knows to wake
		// someone, optionally boost the owner's priority, then block.
		atomic.CompareAndSwapUint32(&m.state, mutexLocked, mutexLockedWait)
		if m.elevation != NoElevation {
			if owner := m.owner.Load(); owner != nil {
				saved := m.sched.Elevate(owner, m.elevation)
				if !m.hasSavedPrio {
					m.savedPrio = saved
					m.hasSavedPrio = true
				}
			}
		}

		_, err := m.futex.Wait(self, &m.state, mutexLockedWait)
		if err != nil {
			return err
		}
		// Loop back around: re-check state, retry the CAS.
	}
}

// Unlock releases the mutex, waking one waiter if any are parked.
func (m *Mutex) Unlock(self *sched.Thread) error {
	state := atomic.LoadUint32(&m.state)
	if state == mutexDestroyed {
		return kerrors.New("MUTEX_UNLOCK", kerrors.NotInitialized, "mutex destroyed")
	}
	if m.owner.Load() != self {
		return kerrors.New("MUTEX_UNLOCK", kerrors.UnauthorizedAction, "unlock called by non-owner")
	}

	if m.recursive && m.recursion > 1 {
		m.recursion--
		return nil
	}

	wasContended := state == mutexLockedWait
	m.owner.Store(nil)
	m.recursion = 0

	if m.elevation != NoElevation && m.hasSavedPrio {
		m.sched.Restore(self, m.savedPrio)
		m.hasSavedPrio = false
	}

	atomic.StoreUint32(&m.state, mutexUnlocked)
	if wasContended {
		_, err := m.futex.Wake(&m.state, 1)
		return err
	}
	return nil
}

// Destroy marks the mutex unusable and wakes every waiter unconditionally.
func (m *Mutex) Destroy() error {
	atomic.StoreUint32(&m.state, mutexDestroyed)
	_, err := m.futex.WakeOwnerDied(&m.state)
	return err
}

// Semaphore is a futex-backed counting semaphore with a signed level:
// negative means |level| threads are waiting.
type Semaphore struct {
	level     int32
	destroyed uint32
	futex     *futex.Table
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(f *futex.Table, initial int32) *Semaphore {
	return &Semaphore{level: initial, futex: f}
}

// Pend decrements the semaphore, blocking self if it would go negative.
func (s *Semaphore) Pend(self *sched.Thread) error {
	for {
		if atomic.LoadUint32(&s.destroyed) != 0 {
			return kerrors.New("SEM_PEND", kerrors.NotInitialized, "semaphore destroyed")
		}
		level := atomic.LoadInt32(&s.level)
		if atomic.CompareAndSwapInt32(&s.level, level, level-1) {
			if level > 0 {
				return nil
			}
			word := (*uint32)(levelAsUint32Ptr(&s.level))
			_, err := s.futex.Wait(self, word, uint32(level-1))
			if err != nil {
				return err
			}
			return nil
		}
	}
}

// Post increments the semaphore, waking one waiter if any are parked.
func (s *Semaphore) Post() error {
	if atomic.LoadUint32(&s.destroyed) != 0 {
		return kerrors.New("SEM_POST", kerrors.NotInitialized, "semaphore destroyed")
	}
	level := atomic.AddInt32(&s.level, 1)
	if level <= 0 {
		word := (*uint32)(levelAsUint32Ptr(&s.level))
		_, err := s.futex.Wake(word, 1)
		return err
	}
	return nil
}

// Destroy marks the semaphore unusable and wakes every waiter.
func (s *Semaphore) Destroy() error {
	atomic.StoreUint32(&s.destroyed, 1)
	word := (*uint32)(levelAsUint32Ptr(&s.level))
	_, err := s.futex.WakeOwnerDied(word)
	return err
}
