// Package vm implements the virtual-memory mapper: a recursively self-mapped
// page directory, PTE/PDE bit accessors in the same shift/mask style the
// uapi structs use for their op/flags fields, and the kmap/kunmap/page-fault
// entry points.
package vm

import (
	"unsafe"

	"github.com/oxmose/utkcore/internal/constants"
	"github.com/oxmose/utkcore/internal/critical"
	"github.com/oxmose/utkcore/internal/frame"
	"github.com/oxmose/utkcore/internal/interfaces"
	"github.com/oxmose/utkcore/internal/kerrors"
)

// Entry bit layout, shared by PDEs and PTEs:
//
//	bit 0      present
//	bit 1      writable
//	bit 2      user-accessible
//	bit 3      write-through
//	bit 4      cache-disabled
//	bit 5      accessed
//	bit 6      dirty
//	bit 7      page-size (4MiB PDE, unused here - all mappings are 4KiB)
//	bit 8      global
//	bits 9-11  OS-available: HARDWARE=0x200, COPY_ON_WRITE=0x400, PRIVATE=0x600
//	bits 12-31 frame number (physical address >> 12)
const (
	FlagPresent  uint32 = 1 << 0
	FlagWritable uint32 = 1 << 1
	FlagUser     uint32 = 1 << 2
	FlagWriteThru uint32 = 1 << 3
	FlagCacheDisable uint32 = 1 << 4
	FlagAccessed uint32 = 1 << 5
	FlagDirty    uint32 = 1 << 6
	FlagPageSize uint32 = 1 << 7
	FlagGlobal   uint32 = 1 << 8

	availMask  uint32 = 0x700
	Hardware   uint32 = 0x200
	CopyOnWrite uint32 = 0x400
	Private    uint32 = 0x600

	frameShift = 12
	frameMask  = 0xFFFFF000
)

// entry is one PDE or PTE word.
type entry uint32

func makeEntry(frame uint32, flags uint32) entry {
	return entry((frame &^ 0xFFF) | (flags &^ frameMask))
}

func (e entry) present() bool  { return uint32(e)&FlagPresent != 0 }
func (e entry) writable() bool { return uint32(e)&FlagWritable != 0 }
func (e entry) frame() uint32  { return uint32(e) & frameMask }
func (e entry) avail() uint32  { return uint32(e) & availMask }

// table is one page table or the page directory: EntriesPerTable entries.
type table [constants.EntriesPerTable]entry

// Mapper owns one address space's page directory.
type Mapper struct {
	sec      critical.Section
	dirPhys  uint32 // physical address of the page directory
	dir      *table // host-addressable view of the directory (via frames.Base())
	frames   *frame.Table
	mmu      interfaces.MMU
	observer interfaces.Observer

	// faultHandlers lets callers (e.g. internal/exception) register a
	// region-specific page-fault handler; dispatch is by the faulting
	// page's virtual address range.
	faultHandlers []faultRegion
}

type faultRegion struct {
	low, high uint32 // [low, high)
	handle    func(virt uint32) error
}

// New allocates the page directory's backing frame, installs the recursive
// self-map at constants.RecursiveSlot, and returns a Mapper.
func New(frames *frame.Table, mmu interfaces.MMU, observer interfaces.Observer) (*Mapper, error) {
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}
	dirPhys, err := frames.AllocKFrames(1)
	if err != nil {
		return nil, kerrors.Wrap("VM_NEW", err)
	}

	base := frames.Base()
	dir := asPointer(base, dirPhys)
	for i := range dir {
		dir[i] = 0
	}
	dir[constants.RecursiveSlot] = makeEntry(dirPhys, FlagPresent|FlagWritable)

	return &Mapper{
		dirPhys:  dirPhys,
		dir:      dir,
		frames:   frames,
		mmu:      mmu,
		observer: observer,
	}, nil
}

// asPointer resolves a physical address into a *table backed by the flat
// physical arena; both the frame table and this mapper share the same
// mmap'd region, so no copy is needed.
func asPointer(phys []byte, addr uint32) *table {
	return (*table)(unsafe.Pointer(&phys[addr]))
}

func dirIndex(virt uint32) uint32 { return virt >> 22 }
func tblIndex(virt uint32) uint32 { return (virt >> 12) & 0x3FF }

// widenRange aligns virt down to the enclosing page and widens size up so
// the resulting [start, start+pages*PageSize) range covers every byte of
// the original [virt, virt+size), including the partial pages at each end.
func widenRange(virt, size uint32) (start uint32, pages uint32) {
	start = virt &^ (constants.PageSize - 1)
	end := virt + size
	end = (end + constants.PageSize - 1) &^ (constants.PageSize - 1)
	if end <= start {
		return start, 0
	}
	return start, (end - start) / constants.PageSize
}

// rollbackMapped unwinds a partially completed Kmap/KmapHW, unmapping every
// page already installed in reverse order so a failure midway through a
// multi-page request never leaves a partial mapping behind.
func (m *Mapper) rollbackMapped(mapped []uint32) {
	for i := len(mapped) - 1; i >= 0; i-- {
		_ = m.kunmapOne(mapped[i])
	}
}

// KmapHW maps a contiguous hardware (MMIO/DMA) physical range at virt,
// marking every PTE with the Hardware available-bits tag so page-fault
// handling never tries to copy-on-write it. Both virt and phys are widened
// to whole pages; on any per-page failure, every page already mapped by this
// call is unwound before the error is returned.
func (m *Mapper) KmapHW(virt, phys, size uint32, writable bool) error {
	vStart, pages := widenRange(virt, size)
	pStart := phys &^ (constants.PageSize - 1)

	mapped := make([]uint32, 0, pages)
	for i := uint32(0); i < pages; i++ {
		v := vStart + i*constants.PageSize
		p := pStart + i*constants.PageSize
		if err := m.kmapOne(v, p, writable, Hardware); err != nil {
			m.rollbackMapped(mapped)
			return err
		}
		mapped = append(mapped, v)
	}
	return nil
}

// Kmap allocates fresh frames and maps them across [virt, virt+size),
// widened to whole pages, defaulting to private (non-shared) mappings. On
// any per-page failure, every page already mapped by this call is unwound
// before the error is returned.
func (m *Mapper) Kmap(virt, size uint32, writable bool) error {
	start, pages := widenRange(virt, size)

	mapped := make([]uint32, 0, pages)
	for i := uint32(0); i < pages; i++ {
		v := start + i*constants.PageSize
		phys, err := m.frames.AllocKFrames(1)
		if err != nil {
			m.rollbackMapped(mapped)
			return kerrors.Wrap("KMAP", err)
		}
		if err := m.kmapOne(v, phys, writable, Private); err != nil {
			_ = m.frames.FreeKFrames(phys, 1)
			m.rollbackMapped(mapped)
			return err
		}
		mapped = append(mapped, v)
	}
	return nil
}

// kmapOne installs a single page's mapping. virt must already be
// page-aligned; every public entry point widens its range before calling
// this.
func (m *Mapper) kmapOne(virt, phys uint32, writable bool, avail uint32) error {
	if virt%constants.PageSize != 0 {
		return kerrors.New("KMAP", kerrors.Align, "virt not page-aligned")
	}

	tok := m.sec.Enter()
	defer tok.Exit()

	di, ti := dirIndex(virt), tblIndex(virt)
	pde := m.dir[di]
	if !pde.present() {
		tblPhys, err := m.frames.AllocKFrames(1)
		if err != nil {
			return kerrors.Wrap("KMAP", err)
		}
		tbl := asPointer(m.frames.Base(), tblPhys)
		for i := range tbl {
			tbl[i] = 0
		}
		m.dir[di] = makeEntry(tblPhys, FlagPresent|FlagWritable|FlagUser)
		pde = m.dir[di]
	}

	tbl := asPointer(m.frames.Base(), pde.frame())
	if tbl[ti].present() {
		return kerrors.New("KMAP", kerrors.MappingAlreadyExists, "virtual address already mapped")
	}

	flags := FlagPresent | avail
	if writable {
		flags |= FlagWritable
	}
	tbl[ti] = makeEntry(phys, flags)
	m.mmu.InvalidatePage(virt)
	return nil
}

// Kunmap removes the mappings across [virt, virt+size), widened to whole
// pages. A page that is already unmapped is treated as a no-op rather than
// an error, so unmapping the same range twice in a row is idempotent: the
// second call returns nil without side effects.
func (m *Mapper) Kunmap(virt, size uint32) error {
	start, pages := widenRange(virt, size)
	for i := uint32(0); i < pages; i++ {
		v := start + i*constants.PageSize
		if err := m.kunmapOne(v); err != nil {
			if kerrors.Is(err, kerrors.MemoryNotMapped) {
				continue
			}
			return err
		}
	}
	return nil
}

// kunmapOne removes the mapping at a single page, dropping the underlying
// frame's reference count and freeing it once it reaches zero - unless the
// mapping is tagged Hardware, which is never owned by the frame allocator's
// normal accounting. virt must already be page-aligned.
func (m *Mapper) kunmapOne(virt uint32) error {
	if virt%constants.PageSize != 0 {
		return kerrors.New("KUNMAP", kerrors.Align, "virt not page-aligned")
	}

	tok := m.sec.Enter()
	defer tok.Exit()

	di, ti := dirIndex(virt), tblIndex(virt)
	pde := m.dir[di]
	if !pde.present() {
		return kerrors.New("KUNMAP", kerrors.MemoryNotMapped, "page directory entry not present")
	}
	tbl := asPointer(m.frames.Base(), pde.frame())
	pte := tbl[ti]
	if !pte.present() {
		return kerrors.New("KUNMAP", kerrors.MemoryNotMapped, "virtual address not mapped")
	}

	phys := pte.frame()
	tbl[ti] = 0
	m.mmu.InvalidatePage(virt)

	if pte.avail() != Hardware {
		if err := m.frames.FreeKFrames(phys, 1); err != nil {
			return kerrors.Wrap("KUNMAP", err)
		}
	}

	if tableEmpty(tbl) {
		tblPhys := pde.frame()
		m.dir[di] = 0
		if err := m.frames.FreeKFrames(tblPhys, 1); err != nil {
			return kerrors.Wrap("KUNMAP", err)
		}
	}
	return nil
}

// tableEmpty reports whether a page table has no present entries left, so
// Kunmap can reclaim it rather than leaving an empty table mapped forever.
func tableEmpty(tbl *table) bool {
	for i := range tbl {
		if tbl[i].present() {
			return false
		}
	}
	return true
}

// IsMapped reports whether every page across [virt, virt+size), widened to
// whole pages, currently has a present mapping.
func (m *Mapper) IsMapped(virt, size uint32) bool {
	start, pages := widenRange(virt, size)
	for i := uint32(0); i < pages; i++ {
		if !m.isMappedOne(start + i*constants.PageSize) {
			return false
		}
	}
	return true
}

// isMappedOne reports whether a single page currently has a present
// mapping. virt must already be page-aligned.
func (m *Mapper) isMappedOne(virt uint32) bool {
	tok := m.sec.Enter()
	defer tok.Exit()

	di, ti := dirIndex(virt), tblIndex(virt)
	pde := m.dir[di]
	if !pde.present() {
		return false
	}
	tbl := asPointer(m.frames.Base(), pde.frame())
	return tbl[ti].present()
}

// DirPhys returns the physical address of this address space's page
// directory, for loading into the MMU on a context switch.
func (m *Mapper) DirPhys() uint32 {
	return m.dirPhys
}

// PhysOf returns the physical frame address backing virt, and whether virt
// currently has a present mapping at all.
func (m *Mapper) PhysOf(virt uint32) (uint32, bool) {
	tok := m.sec.Enter()
	defer tok.Exit()

	di, ti := dirIndex(virt), tblIndex(virt)
	pde := m.dir[di]
	if !pde.present() {
		return 0, false
	}
	tbl := asPointer(m.frames.Base(), pde.frame())
	pte := tbl[ti]
	if !pte.present() {
		return 0, false
	}
	return pte.frame(), true
}

// RegisterFaultRegion installs a handler invoked by HandleFault for faults
// whose virtual address falls in [low, high). Regions must not overlap.
func (m *Mapper) RegisterFaultRegion(low, high uint32, handle func(virt uint32) error) {
	tok := m.sec.Enter()
	defer tok.Exit()
	m.faultHandlers = append(m.faultHandlers, faultRegion{low: low, high: high, handle: handle})
}

// HandleFault dispatches a page fault reported by the MMU to whichever
// registered region owns the faulting address. Unhandled faults and
// handler errors are only returned: HandleFault undoes no mapping work a
// handler may have done before it failed.
func (m *Mapper) HandleFault(virt uint32) error {
	tok := m.sec.Enter()
	regions := append([]faultRegion(nil), m.faultHandlers...)
	tok.Exit()

	for _, r := range regions {
		if virt >= r.low && virt < r.high {
			err := r.handle(virt)
			m.observer.ObservePageFault(err == nil)
			return err
		}
	}
	m.observer.ObservePageFault(false)
	return kerrors.New("PAGE_FAULT", kerrors.MemoryNotMapped, "no handler registered for faulting address")
}
