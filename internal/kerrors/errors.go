// Package kerrors is the structured error taxonomy shared by every kernel
// subsystem (heap, frame, vm, interrupt, scheduler, futex, sync, syscall).
package kerrors

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is a high-level error category.
type Code string

const (
	NullPointer                Code = "null pointer"
	IncorrectValue             Code = "incorrect value"
	OutOfBound                 Code = "out of bound"
	Align                      Code = "alignment violation"
	Malloc                     Code = "malloc failure"
	NoMoreFreeMem              Code = "no more free memory"
	NoSuchID                   Code = "no such id"
	NoSuchIRQ                  Code = "no such irq"
	InterruptAlreadyRegistered Code = "interrupt already registered"
	InterruptNotRegistered     Code = "interrupt not registered"
	UnauthorizedInterruptLine  Code = "unauthorized interrupt line"
	ForbiddenPriority          Code = "forbidden priority"
	UnauthorizedAction         Code = "unauthorized action"
	NotInitialized             Code = "not initialized"
	MemoryNotMapped            Code = "memory not mapped"
	MappingAlreadyExists       Code = "mapping already exists"
	SyscallUnknown             Code = "syscall unknown"
	ChecksumFailed             Code = "checksum failed"
	WrongSignature             Code = "wrong signature"
	NotSupported               Code = "not supported"
	OwnerDied                  Code = "owner died"
)

// Error is the structured error returned by every fallible core operation.
// Success is always a nil error, never a zero Error - there is no dedicated
// "no error" sentinel value in Go's idiom; a nil error plays that role.
type Error struct {
	Op    string        // operation that failed, e.g. "FUTEX_WAIT", "KMAP"
	Code  Code          // high-level error category
	Errno syscall.Errno // underlying errno, 0 if not applicable
	Msg   string        // human-readable detail
	Inner error         // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("kernel: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("kernel: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates a structured error with no wrapped cause.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WithErrno creates a structured error carrying a syscall errno.
func WithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// Wrap attaches an operation name to an existing error, preserving its code
// if it is already one of ours.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ie, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ie.Code, Errno: ie.Errno, Msg: ie.Msg, Inner: ie.Inner}
	}
	return &Error{Op: op, Code: NotSupported, Msg: inner.Error(), Inner: inner}
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}
