package utkcore

import (
	"time"

	"github.com/oxmose/utkcore/internal/constants"
)

// Re-exported tuning constants, so callers configuring a Kernel don't need
// to reach into internal/constants directly.
const (
	MaxCPU            = constants.MaxCPU
	HighestPriority    = constants.HighestPriority
	LowestPriority     = constants.LowestPriority
	IdlePriority       = constants.IdlePriority
	MaxThreadName      = constants.MaxThreadName
	ThreadStorageSize  = constants.ThreadStorageSize
	DefaultStackSize   = constants.DefaultStackSize
	PageSize           = constants.PageSize
	EntriesPerTable    = constants.EntriesPerTable
	RecursiveSlot      = constants.RecursiveSlot
	HeapSize           = constants.HeapSize
	HeapAlignment      = constants.HeapAlignment
	HeapSizeClasses    = constants.HeapSizeClasses
	FrameArenaFrames   = constants.FrameArenaFrames
	TickHz             = constants.TickHz
	FutexTableShards   = constants.FutexTableShards
)

// TickInterval is the wall-clock duration of one scheduler tick.
var TickInterval = time.Second / TickHz
