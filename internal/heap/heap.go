// Package heap implements the kernel heap allocator: a segregated free-list
// allocator over a single mmap'd arena, guarded by one critical section
// rather than a lock-free scheme - a single arena has no real concurrency
// to exploit there.
package heap

import (
	"math/bits"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/oxmose/utkcore/internal/constants"
	"github.com/oxmose/utkcore/internal/critical"
	"github.com/oxmose/utkcore/internal/interfaces"
	"github.com/oxmose/utkcore/internal/kerrors"
)

// chunk is the header prefixed to every block in the arena, used or free.
// The two sentinel chunks bracketing the arena are marked used and carry no
// payload, so a walk off either end always finds a "used" neighbor instead
// of running past the arena.
type chunk struct {
	size int // payload size, excluding this header
	used bool
	prev *chunk // address-ordered, not free-list-ordered
	next *chunk

	// free-list links, valid only while used == false
	freePrev *chunk
	freeNext *chunk
}

const chunkHeaderSize = int(unsafe.Sizeof(chunk{}))

// Heap is a single mmap-backed arena with HeapSizeClasses segregated free
// lists, one per power-of-two size class.
type Heap struct {
	sec   critical.Section
	arena []byte
	start *chunk // address-ordered sentinel head (used, zero size)
	end   *chunk // address-ordered sentinel tail (used, zero size)

	freeLists [constants.HeapSizeClasses]*chunk

	observer interfaces.Observer
}

// New mmaps an anonymous arena of constants.HeapSize bytes and initializes
// it as one large free chunk bracketed by two used sentinels.
func New(observer interfaces.Observer) (*Heap, error) {
	arena, err := unix.Mmap(-1, 0, constants.HeapSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, kerrors.Wrap("HEAP_NEW", err)
	}
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}

	h := &Heap{arena: arena, observer: observer}

	base := unsafe.Pointer(&arena[0])
	h.start = (*chunk)(base)
	*h.start = chunk{size: 0, used: true}

	endOff := uintptr(len(arena)) - uintptr(chunkHeaderSize)
	h.end = (*chunk)(unsafe.Add(base, endOff))
	*h.end = chunk{size: 0, used: true}

	midOff := uintptr(chunkHeaderSize)
	mid := (*chunk)(unsafe.Add(base, midOff))
	midSize := int(endOff) - int(midOff) - chunkHeaderSize
	*mid = chunk{size: midSize, used: false, prev: h.start, next: h.end}
	h.start.next = mid
	h.end.prev = mid

	h.linkFree(mid)
	return h, nil
}

// Close unmaps the arena. Any pointers returned by Alloc become invalid.
func (h *Heap) Close() error {
	return unix.Munmap(h.arena)
}

func sizeClass(size int) int {
	if size <= 0 {
		return 0
	}
	class := bits.Len(uint(size)) - 1
	if class >= constants.HeapSizeClasses {
		class = constants.HeapSizeClasses - 1
	}
	return class
}

func (h *Heap) linkFree(c *chunk) {
	class := sizeClass(c.size)
	c.freePrev = nil
	c.freeNext = h.freeLists[class]
	if h.freeLists[class] != nil {
		h.freeLists[class].freePrev = c
	}
	h.freeLists[class] = c
}

func (h *Heap) unlinkFree(c *chunk) {
	class := sizeClass(c.size)
	if c.freePrev != nil {
		c.freePrev.freeNext = c.freeNext
	} else {
		h.freeLists[class] = c.freeNext
	}
	if c.freeNext != nil {
		c.freeNext.freePrev = c.freePrev
	}
	c.freePrev, c.freeNext = nil, nil
}

// align rounds n up to constants.HeapAlignment.
func align(n int) int {
	a := constants.HeapAlignment
	return (n + a - 1) &^ (a - 1)
}

// Alloc reserves at least size bytes and returns a pointer into the arena.
// Alloc(0) returns nil with no error rather than a zero-size allocation.
func (h *Heap) Alloc(size int) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, nil
	}
	if size < 0 {
		return nil, kerrors.New("HEAP_ALLOC", kerrors.IncorrectValue, "negative size")
	}
	need := align(size)

	tok := h.sec.Enter()
	defer tok.Exit()

	for class := sizeClass(need); class < constants.HeapSizeClasses; class++ {
		for c := h.freeLists[class]; c != nil; c = c.freeNext {
			if c.size < need {
				continue
			}
			h.unlinkFree(c)
			h.split(c, need)
			c.used = true
			h.observer.ObserveAlloc(uint64(need), true)
			return unsafe.Add(unsafe.Pointer(c), chunkHeaderSize), nil
		}
	}

	h.observer.ObserveAlloc(uint64(need), false)
	return nil, kerrors.New("HEAP_ALLOC", kerrors.NoMoreFreeMem, "no chunk large enough")
}

// split carves a used-size chunk out of the front of c if the remainder is
// worth keeping as its own free chunk, and relinks the remainder into the
// address-ordered list.
func (h *Heap) split(c *chunk, used int) {
	remaining := c.size - used
	if remaining <= chunkHeaderSize {
		return
	}

	newOff := uintptr(used)
	rem := (*chunk)(unsafe.Add(unsafe.Pointer(c), chunkHeaderSize+int(newOff)))
	*rem = chunk{
		size: remaining - chunkHeaderSize,
		used: false,
		prev: c,
		next: c.next,
	}
	c.next.prev = rem
	c.next = rem
	c.size = used

	h.linkFree(rem)
}

// Free releases a pointer previously returned by Alloc, merging with
// address-adjacent free neighbors.
func (h *Heap) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	tok := h.sec.Enter()
	defer tok.Exit()

	c := (*chunk)(unsafe.Add(ptr, -chunkHeaderSize))
	if !c.used {
		return kerrors.New("HEAP_FREE", kerrors.IncorrectValue, "double free or invalid pointer")
	}
	c.used = false
	size := c.size
	h.observer.ObserveFree(uint64(size))

	if next := c.next; next != nil && !next.used {
		h.unlinkFree(next)
		c.size += chunkHeaderSize + next.size
		c.next = next.next
		c.next.prev = c
	}
	if prev := c.prev; prev != nil && !prev.used {
		h.unlinkFree(prev)
		prev.size += chunkHeaderSize + c.size
		prev.next = c.next
		prev.next.prev = prev
		c = prev
	}

	h.linkFree(c)
	return nil
}
