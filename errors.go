package utkcore

import (
	"github.com/oxmose/utkcore/internal/kerrors"
)

// Error is the structured error every public Kernel operation can return.
// It is a re-export of internal/kerrors.Error so callers outside this
// module never need to import an internal package to do errors.As on it.
type Error = kerrors.Error

// Code re-exports kerrors.Code, the high-level error category enum.
type Code = kerrors.Code

// Re-exported error codes, one per kerrors taxonomy entry.
const (
	ErrNullPointer                = kerrors.NullPointer
	ErrIncorrectValue             = kerrors.IncorrectValue
	ErrOutOfBound                 = kerrors.OutOfBound
	ErrAlign                      = kerrors.Align
	ErrMalloc                     = kerrors.Malloc
	ErrNoMoreFreeMem              = kerrors.NoMoreFreeMem
	ErrNoSuchID                   = kerrors.NoSuchID
	ErrNoSuchIRQ                  = kerrors.NoSuchIRQ
	ErrInterruptAlreadyRegistered = kerrors.InterruptAlreadyRegistered
	ErrInterruptNotRegistered     = kerrors.InterruptNotRegistered
	ErrUnauthorizedInterruptLine  = kerrors.UnauthorizedInterruptLine
	ErrForbiddenPriority          = kerrors.ForbiddenPriority
	ErrUnauthorizedAction         = kerrors.UnauthorizedAction
	ErrNotInitialized             = kerrors.NotInitialized
	ErrMemoryNotMapped            = kerrors.MemoryNotMapped
	ErrMappingAlreadyExists       = kerrors.MappingAlreadyExists
	ErrSyscallUnknown             = kerrors.SyscallUnknown
	ErrChecksumFailed             = kerrors.ChecksumFailed
	ErrWrongSignature             = kerrors.WrongSignature
	ErrNotSupported               = kerrors.NotSupported
	ErrOwnerDied                  = kerrors.OwnerDied
)

// IsCode reports whether err is a *kerrors.Error carrying the given code.
func IsCode(err error, code Code) bool {
	return kerrors.Is(err, code)
}
