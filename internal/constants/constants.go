// Package constants holds the kernel-wide numeric constants the rest of the
// core is built against.
package constants

import "time"

const (
	// MaxCPU is the number of logical processors the scheduler supports.
	MaxCPU = 8

	// Priority band. 0 is highest, IdlePriority is lowest and reserved for
	// the idle thread of each CPU.
	HighestPriority = 0
	LowestPriority  = 63
	IdlePriority    = 63

	// MaxThreadName bounds the human-readable thread name.
	MaxThreadName = 32

	// ThreadStorageSize is the reserved per-thread scratch blob.
	ThreadStorageSize = 1024

	// DefaultStackSize is used by spawn() when the caller requests 0.
	DefaultStackSize = 16 * 1024

	// PageSize is the architecture page/frame size.
	PageSize = 4096

	// EntriesPerTable is the number of PTEs in one page table, or PDEs in
	// one page directory.
	EntriesPerTable = 1024

	// RecursiveSlot is the page-directory index that self-maps the
	// directory (the last entry).
	RecursiveSlot = EntriesPerTable - 1

	// HeapSize is the size of the kernel heap arena.
	HeapSize = 16 << 20

	// HeapAlignment is the minimum payload alignment.
	HeapAlignment = 4

	// HeapSizeClasses is the number of segregated free lists (class = floor(log2(size))).
	HeapSizeClasses = 32

	// FrameArenaFrames is the number of 4 KiB frames backing the frame
	// allocator's arena (256 MiB worth by default).
	FrameArenaFrames = 65536

	// TickHz is the scheduler timer frequency; sleep() deadlines and the
	// tick counter both advance in units of 1/TickHz seconds.
	TickHz = 1000

	// FutexTableShards is the number of independent lock shards the futex
	// hash table is split across.
	FutexTableShards = 64
)

// TickInterval is the wall-clock duration of one scheduler tick.
var TickInterval = time.Second / TickHz
