// Package frame implements the physical-frame reference-count table: a
// two-level table over a flat, mmap'd physical-memory arena,
// each entry packing presence, a hardware-reserved flag, and a 24-bit
// reference count into one uint32 - the same bit-packing idiom the uapi
// structs use for wire fields (present/flags/reserved-count all sharing one
// word).
package frame

import (
	"golang.org/x/sys/unix"

	"github.com/oxmose/utkcore/internal/constants"
	"github.com/oxmose/utkcore/internal/critical"
	"github.com/oxmose/utkcore/internal/interfaces"
	"github.com/oxmose/utkcore/internal/kerrors"
)

const (
	entryPresent  uint32 = 1 << 31
	entryHardware uint32 = 1 << 30
	countMask     uint32 = (1 << 24) - 1

	// L1 entries each cover L2Size frames, mirroring a two-level page
	// table's directory/table split.
	l2Size = 1024
	l1Size = (constants.FrameArenaFrames + l2Size - 1) / l2Size
)

// Table is the physical-frame allocator. One physical arena backs every
// frame; entries track reference counts so copy-on-write sharing (set up by
// internal/vm) can free a frame only once its last mapping drops it.
type Table struct {
	sec      critical.Section
	phys     []byte // mmap'd arena, FrameArenaFrames*PageSize bytes
	l1       [l1Size][]uint32
	freeCount int
	observer interfaces.Observer
}

// New mmaps the physical arena and marks every frame free.
func New(observer interfaces.Observer) (*Table, error) {
	size := constants.FrameArenaFrames * constants.PageSize
	phys, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, kerrors.Wrap("FRAME_NEW", err)
	}
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}

	t := &Table{phys: phys, observer: observer, freeCount: constants.FrameArenaFrames}
	for i := range t.l1 {
		t.l1[i] = make([]uint32, l2Size)
	}
	return t, nil
}

// Close unmaps the physical arena.
func (t *Table) Close() error {
	return unix.Munmap(t.phys)
}

func (t *Table) entry(frame uint32) *uint32 {
	return &t.l1[frame/l2Size][frame%l2Size]
}

// AllocKFrames reserves n physically contiguous frames with an initial
// reference count of 1, returning the physical address of the first frame.
// A first-fit linear scan is used rather than a free-list stack: callers
// need contiguity across the whole run, which a simple freed-frame stack
// cannot guarantee once allocations interleave.
func (t *Table) AllocKFrames(n int) (uint32, error) {
	if n <= 0 {
		return 0, kerrors.New("FRAME_ALLOC", kerrors.IncorrectValue, "n must be positive")
	}

	tok := t.sec.Enter()
	defer tok.Exit()

	if t.freeCount < n {
		t.observer.ObserveFrameAlloc(n, false)
		return 0, kerrors.New("FRAME_ALLOC", kerrors.NoMoreFreeMem, "not enough free frames")
	}

	run := 0
	var start uint32
	for f := uint32(0); f < constants.FrameArenaFrames; f++ {
		if *t.entry(f)&entryPresent == 0 {
			if run == 0 {
				start = f
			}
			run++
			if run == n {
				for i := uint32(0); i < uint32(n); i++ {
					*t.entry(start+i) = entryPresent | 1
				}
				t.freeCount -= n
				t.observer.ObserveFrameAlloc(n, true)
				return start * constants.PageSize, nil
			}
		} else {
			run = 0
		}
	}

	t.observer.ObserveFrameAlloc(n, false)
	return 0, kerrors.New("FRAME_ALLOC", kerrors.NoMoreFreeMem, "no contiguous run large enough")
}

// FreeKFrames decrements the reference count of n frames starting at the
// physical address phys, marking each frame free again (and adding it back
// to the free count) once its count reaches zero.
func (t *Table) FreeKFrames(phys uint32, n int) error {
	if phys%constants.PageSize != 0 {
		return kerrors.New("FRAME_FREE", kerrors.Align, "phys not page-aligned")
	}
	first := phys / constants.PageSize

	tok := t.sec.Enter()
	defer tok.Exit()

	for f := first; f < first+uint32(n); f++ {
		e := t.entry(f)
		if *e&entryPresent == 0 {
			return kerrors.New("FRAME_FREE", kerrors.IncorrectValue, "frame not allocated")
		}
		count := (*e & countMask) - 1
		if count == 0 {
			*e = 0
			t.freeCount++
			t.observer.ObserveFrameFree(1)
		} else {
			*e = (*e &^ countMask) | count
		}
	}
	return nil
}

// Ref increments the reference count of the frame containing phys, used
// when a copy-on-write mapping shares a frame instead of copying it.
func (t *Table) Ref(phys uint32) error {
	f := phys / constants.PageSize

	tok := t.sec.Enter()
	defer tok.Exit()

	e := t.entry(f)
	if *e&entryPresent == 0 {
		return kerrors.New("FRAME_REF", kerrors.IncorrectValue, "frame not allocated")
	}
	count := (*e & countMask) + 1
	*e = (*e &^ countMask) | count
	return nil
}

// RefCount returns the current reference count of the frame containing
// phys, or 0 if the frame is not allocated.
func (t *Table) RefCount(phys uint32) uint32 {
	tok := t.sec.Enter()
	defer tok.Exit()

	e := *t.entry(phys / constants.PageSize)
	if e&entryPresent == 0 {
		return 0
	}
	return e & countMask
}

// MarkHardware flags a frame as reserved for hardware (MMIO, DMA, ...) and
// marks it present, so AllocKFrames never hands it out; the free count is
// not adjusted.
func (t *Table) MarkHardware(phys uint32) {
	tok := t.sec.Enter()
	defer tok.Exit()
	e := t.entry(phys / constants.PageSize)
	*e |= entryPresent | entryHardware
}

// IsHardware reports whether the frame containing phys is hardware-reserved.
func (t *Table) IsHardware(phys uint32) bool {
	tok := t.sec.Enter()
	defer tok.Exit()
	return *t.entry(phys/constants.PageSize)&entryHardware != 0
}

// Base returns the start of the mmap'd physical arena, for components (vm)
// that need to translate a physical address into a host-addressable slice.
func (t *Table) Base() []byte {
	return t.phys
}
