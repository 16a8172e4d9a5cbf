// Package queue implements the intrusive doubly-linked queue backing every
// waiter list in the core: O(1) FIFO push/pop, O(n) priority-ordered
// insertion, and O(1) removal given a node. Node storage is recycled through
// a sync.Pool (pool.go) instead of allocated fresh on every push.
//
// Node identity is a plain pointer rather than an arena index: unlike the
// scheduler's Thread handles (which are deliberately exposed to callers
// across goroutines and need a generation check), a Node's lifetime is
// entirely owned by whichever single queue currently holds it, so a raw
// pointer is both safe and idiomatic here.
//
// Push appends at the tail, Pop removes the head, so head-to-tail iteration
// (as futex WAKE performs) visits waiters in enqueue order - the one
// behavior the futex fairness scenario actually requires.
package queue

import "github.com/oxmose/utkcore/internal/kerrors"

// Node is one link in an intrusive queue. Its Data field is an opaque
// payload; callers embed whatever they need (a Thread pointer, a futex
// waiter record, ...) there.
type Node struct {
	Data     any
	Priority int

	enlisted bool
	queue    *Queue
	prev     *Node
	next     *Node
}

// Enlisted reports whether the node currently belongs to a queue.
func (n *Node) Enlisted() bool { return n.enlisted }

// Queue is one doubly-linked list of nodes, FIFO or priority ordered
// depending on which push variant its owner uses.
type Queue struct {
	head, tail *Node
	len        int
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Len returns the number of enqueued nodes.
func (q *Queue) Len() int { return q.len }

// Push appends node at the tail. O(1). Errors if node is already enlisted
// anywhere - the single-queue-membership invariant is checked here, not
// left to the caller.
func (q *Queue) Push(n *Node) error {
	if n.enlisted {
		return kerrors.New("QUEUE_PUSH", kerrors.UnauthorizedAction, "node already enlisted in a queue")
	}
	n.enlisted = true
	n.queue = q
	n.prev = q.tail
	n.next = nil
	if q.tail != nil {
		q.tail.next = n
	} else {
		q.head = n
	}
	q.tail = n
	q.len++
	return nil
}

// PushPriority inserts node keeping the queue in ascending-priority order
// from the head (0 = highest priority), stable (FIFO) among equal
// priorities. O(n).
func (q *Queue) PushPriority(n *Node, priority int) error {
	if n.enlisted {
		return kerrors.New("QUEUE_PUSH_PRIO", kerrors.UnauthorizedAction, "node already enlisted in a queue")
	}
	n.enlisted = true
	n.queue = q
	n.Priority = priority

	cur := q.head
	for cur != nil && cur.Priority <= priority {
		cur = cur.next
	}

	if cur == nil {
		// Belongs at the tail: every existing node has priority <= ours.
		n.prev = q.tail
		n.next = nil
		if q.tail != nil {
			q.tail.next = n
		} else {
			q.head = n
		}
		q.tail = n
	} else {
		n.next = cur
		n.prev = cur.prev
		if cur.prev != nil {
			cur.prev.next = n
		} else {
			q.head = n
		}
		cur.prev = n
	}
	q.len++
	return nil
}

// Pop removes and returns the head node (oldest for a FIFO queue, highest
// priority for a priority queue), or nil if empty.
func (q *Queue) Pop() *Node {
	n := q.head
	if n == nil {
		return nil
	}
	q.unlink(n)
	return n
}

// Peek returns the head node without removing it, or nil if empty.
func (q *Queue) Peek() *Node {
	return q.head
}

// Find performs a linear search for a node carrying the given data.
func (q *Queue) Find(data any) *Node {
	for n := q.head; n != nil; n = n.next {
		if n.Data == data {
			return n
		}
	}
	return nil
}

// Nodes returns a snapshot slice of every node currently enqueued, head to
// tail, without removing any of them - for callers (futex WAKE's skip
// predicate) that need to inspect the queue before deciding which nodes to
// unlink, rather than blindly popping from the head.
func (q *Queue) Nodes() []*Node {
	out := make([]*Node, 0, q.len)
	for n := q.head; n != nil; n = n.next {
		out = append(out, n)
	}
	return out
}

// Remove unlinks an arbitrary node in O(1), erroring if it is not a member
// of this queue.
func (q *Queue) Remove(n *Node) error {
	if !n.enlisted || n.queue != q {
		return kerrors.New("QUEUE_REMOVE", kerrors.UnauthorizedAction, "node not a member of this queue")
	}
	q.unlink(n)
	return nil
}

func (q *Queue) unlink(n *Node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		q.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		q.tail = n.prev
	}
	n.prev, n.next, n.queue, n.enlisted = nil, nil, nil, false
	q.len--
}

// DeleteQueue errors unless the queue is empty - a non-empty queue cannot be
// torn down silently.
func DeleteQueue(q *Queue) error {
	if q.len != 0 {
		return kerrors.New("QUEUE_DELETE", kerrors.UnauthorizedAction, "queue not empty")
	}
	return nil
}
