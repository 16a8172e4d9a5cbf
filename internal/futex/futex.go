// Package futex implements the physical-address-keyed wait-queue table
// backing internal/ksync's mutex and semaphore. The table is sharded the
// same way a RAM-disk backend shards its per-offset locks (ShardSize / a
// per-shard sync.RWMutex): one mutex per shard instead of one global lock,
// so unrelated addresses never contend.
package futex

import (
	"hash/fnv"
	"sync"
	"unsafe"

	"github.com/oxmose/utkcore/internal/constants"
	"github.com/oxmose/utkcore/internal/kerrors"
	"github.com/oxmose/utkcore/internal/queue"
	"github.com/oxmose/utkcore/internal/sched"
)

// waiter is one thread parked on a futex word.
type waiter struct {
	thread    *sched.Thread
	wait      uint32 // expected value this waiter was parked on
	ownerDied bool   // set by WakeOwnerDied before the waiter resumes
}

type shard struct {
	mu    sync.Mutex
	table map[uint32]*queue.Queue // physical address -> FIFO waiter queue
}

// Table is the sharded futex wait-queue hash table.
type Table struct {
	shards [constants.FutexTableShards]*shard
	sched  *sched.Scheduler
}

// New creates an empty futex table bound to scheduler s, which supplies
// LockThread/UnlockThread for parking and waking waiters.
func New(s *sched.Scheduler) *Table {
	t := &Table{sched: s}
	for i := range t.shards {
		t.shards[i] = &shard{table: make(map[uint32]*queue.Queue)}
	}
	return t
}

func (t *Table) shardFor(key uint32) *shard {
	h := fnv.New32a()
	var b [4]byte
	b[0], b[1], b[2], b[3] = byte(key), byte(key>>8), byte(key>>16), byte(key>>24)
	_, _ = h.Write(b[:])
	return t.shards[h.Sum32()%constants.FutexTableShards]
}

// ptrKey turns a *uint32 into a stable integer key. Using the pointer's
// address (rather than its pointee value) is what makes this table keyed
// by physical address: two distinct words that happen to hold the same
// value must never collide.
func ptrKey(addr *uint32) uint32 {
	return uint32(uintptr(unsafe.Pointer(addr)))
}

// Wait blocks the calling thread if *addr == expected, returning once woken.
// ownerDied reports whether the waiter was woken via WakeOwnerDied rather than
// a normal Wake.
func (t *Table) Wait(self *sched.Thread, addr *uint32, expected uint32) (ownerDied bool, err error) {
	if addr == nil {
		return false, kerrors.New("FUTEX_WAIT", kerrors.NullPointer, "nil address")
	}

	key := ptrKey(addr)
	sh := t.shardFor(key)
	sh.mu.Lock()
	if *addr != expected {
		sh.mu.Unlock()
		return false, nil
	}

	q, ok := sh.table[key]
	if !ok {
		q = queue.New()
		sh.table[key] = q
	}
	node := queue.GetNode(&waiter{thread: self, wait: expected})
	_ = q.Push(node)
	t.sched.AddResource(self, node, func(payload any) {
		t.reapWaiter(key, node)
	})
	sh.mu.Unlock()

	t.sched.LockThread(self, sched.WaitResource)

	sh.mu.Lock()
	t.sched.RemoveResource(self, node)
	ownerDied = node.Data.(*waiter).ownerDied
	// Only reap the table entry if it still points at the queue we pushed
	// onto: the waker may already have deleted it (and a fresh Wait call
	// may have since installed a brand new queue at the same key).
	if cur, ok := sh.table[key]; ok && cur == q && q.Len() == 0 {
		delete(sh.table, key)
	}
	sh.mu.Unlock()

	queue.PutNode(node)
	return ownerDied, nil
}

// Wake wakes up to n waiters parked on addr, in enqueue order, skipping any
// waiter whose stored expected value still matches the current *addr (that
// waiter would observe no change, so it stays parked), returning the number
// actually woken.
func (t *Table) Wake(addr *uint32, n int) (int, error) {
	if addr == nil {
		return 0, kerrors.New("FUTEX_WAKE", kerrors.NullPointer, "nil address")
	}
	if n <= 0 {
		return 0, nil
	}

	key := ptrKey(addr)
	sh := t.shardFor(key)

	sh.mu.Lock()
	q, ok := sh.table[key]
	if !ok {
		sh.mu.Unlock()
		return 0, nil
	}

	cur := *addr
	var woken []*sched.Thread
	for _, node := range q.Nodes() {
		if len(woken) >= n {
			break
		}
		w := node.Data.(*waiter)
		if w.wait == cur {
			continue
		}
		_ = q.Remove(node)
		woken = append(woken, w.thread)
	}
	if q.Len() == 0 {
		delete(sh.table, key)
	}
	sh.mu.Unlock()

	for _, th := range woken {
		t.sched.UnlockThread(th)
	}
	return len(woken), nil
}

// reapWaiter removes node from the queue stored under key if it is still
// enlisted there, deleting the table entry when the queue empties out. It
// runs as the cleanup_fn for a thread that terminates while parked in Wait,
// so a dead thread never leaves a stale waiter record behind.
func (t *Table) reapWaiter(key uint32, node *queue.Node) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	q, ok := sh.table[key]
	if !ok || !node.Enlisted() {
		return
	}
	_ = q.Remove(node)
	if q.Len() == 0 {
		delete(sh.table, key)
	}
}

// WakeOwnerDied wakes every waiter on addr, marking each as having observed
// an owner-died condition rather than a normal wake.
func (t *Table) WakeOwnerDied(addr *uint32) (int, error) {
	if addr == nil {
		return 0, kerrors.New("FUTEX_WAKE", kerrors.NullPointer, "nil address")
	}

	key := ptrKey(addr)
	sh := t.shardFor(key)

	sh.mu.Lock()
	q, ok := sh.table[key]
	if !ok {
		sh.mu.Unlock()
		return 0, nil
	}
	var woken []*sched.Thread
	for {
		node := q.Pop()
		if node == nil {
			break
		}
		node.Data.(*waiter).ownerDied = true
		woken = append(woken, node.Data.(*waiter).thread)
	}
	delete(sh.table, key)
	sh.mu.Unlock()

	for _, th := range woken {
		t.sched.UnlockThread(th)
	}
	return len(woken), nil
}
