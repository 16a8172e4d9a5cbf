package queue

import "sync"

// nodePool recycles Node structs instead of allocating one on every push,
// the same size-bucketed pooling idea applied here to queue nodes rather
// than I/O byte slices: a scheduler doing thousands of push/pop cycles a
// second (every dispatch, every sleep, every futex wait) would otherwise
// churn the GC on a hot path.
var nodePool = sync.Pool{
	New: func() any { return &Node{} },
}

// GetNode returns a recycled or freshly allocated Node carrying data.
// Caller must call PutNode once the node has been popped or removed from
// its queue - pushing a node obtained elsewhere without releasing it first
// will simply leak it, not corrupt state, since Queue itself never touches
// the pool.
func GetNode(data any) *Node {
	n := nodePool.Get().(*Node)
	n.Data = data
	n.Priority = 0
	n.enlisted = false
	n.queue = nil
	n.prev = nil
	n.next = nil
	return n
}

// PutNode returns a node to the pool. The node must not be enlisted in any
// queue; pooling an enlisted node would corrupt that queue's links the next
// time it is handed out.
func PutNode(n *Node) {
	if n.enlisted {
		return
	}
	n.Data = nil
	nodePool.Put(n)
}
