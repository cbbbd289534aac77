// Package errs holds mpool's structured error type so internal manager
// packages (registry, mblock, mlog, mdc, mcache) can construct and compare
// errors without importing the root package, which would create an import
// cycle. The root package re-exports these as mpool.Error, mpool.Code, etc.
package errs

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is the high-level error category. Zero (CodeOK) is never attached
// to a non-nil *Error; it exists only so Code's zero value reads as "no
// error" when used in the packed 64-bit form.
type Code uint8

const (
	CodeOK Code = iota
	CodeInvalidArgument
	CodeNotFound
	CodeAlreadyExists
	CodeNoSpace
	CodeBusy
	CodeOverflow
	CodeOutOfRange
	CodeCorrupt
	CodeIO
	CodeInvalidState
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidArgument:
		return "invalid-argument"
	case CodeNotFound:
		return "not-found"
	case CodeAlreadyExists:
		return "already-exists"
	case CodeNoSpace:
		return "no-space"
	case CodeBusy:
		return "busy"
	case CodeOverflow:
		return "overflow"
	case CodeOutOfRange:
		return "out-of-range"
	case CodeCorrupt:
		return "corrupt"
	case CodeIO:
		return "io"
	case CodeInvalidState:
		return "invalid-state"
	default:
		return "unknown"
	}
}

// Origin tags which component raised the error, carried in the packed code
// alongside Code and the backend errno.
type Origin uint8

const (
	OriginPool Origin = iota
	OriginRegistry
	OriginMblock
	OriginMlog
	OriginMDC
	OriginMcache
)

func (o Origin) String() string {
	switch o {
	case OriginPool:
		return "pool"
	case OriginRegistry:
		return "registry"
	case OriginMblock:
		return "mblock"
	case OriginMlog:
		return "mlog"
	case OriginMDC:
		return "mdc"
	case OriginMcache:
		return "mcache"
	default:
		return "unknown"
	}
}

// Error is mpool's structured error type: an operation name, the object ID
// involved (if any), a Code category, the component Origin, and an optional
// wrapped backend errno.
type Error struct {
	Op     string
	ID     uint64 // object ID, 0 if not applicable
	Code   Code
	Origin Origin
	Errno  syscall.Errno // 0 if not applicable
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}

	var extra string
	switch {
	case e.ID != 0 && e.Errno != 0:
		extra = fmt.Sprintf(" (id=0x%x errno=%d)", e.ID, e.Errno)
	case e.ID != 0:
		extra = fmt.Sprintf(" (id=0x%x)", e.ID)
	case e.Errno != 0:
		extra = fmt.Sprintf(" (errno=%d)", e.Errno)
	}

	if e.Op != "" {
		return fmt.Sprintf("mpool: %s: %s%s", e.Op, msg, extra)
	}
	return fmt.Sprintf("mpool: %s%s", msg, extra)
}

// Unwrap supports errors.Is/As against the wrapped backend error.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target is an *Error with the same Code, allowing
// errors.Is(err, &Error{Code: CodeNotFound}) style comparisons.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates a structured error with no object ID context.
func New(op string, code Code, origin Origin, msg string) *Error {
	return &Error{Op: op, Code: code, Origin: origin, Msg: msg}
}

// NewObject creates a structured error scoped to a specific object ID.
func NewObject(op string, id uint64, code Code, origin Origin, msg string) *Error {
	return &Error{Op: op, ID: id, Code: code, Origin: origin, Msg: msg}
}

// WrapBackend wraps a backend-reported error with mpool context, mapping
// syscall.Errno values to a Code via ErrnoToCode and defaulting to CodeIO
// for anything else. If inner is already an *Error it is re-annotated with
// the new Op but keeps its original Code/Origin/ID.
func WrapBackend(op string, id uint64, origin Origin, inner error) *Error {
	if inner == nil {
		return nil
	}

	if me, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			ID:     me.ID,
			Code:   me.Code,
			Origin: me.Origin,
			Errno:  me.Errno,
			Msg:    me.Msg,
			Inner:  me.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:     op,
			ID:     id,
			Code:   ErrnoToCode(errno),
			Origin: origin,
			Errno:  errno,
			Msg:    errno.Error(),
			Inner:  inner,
		}
	}

	return &Error{
		Op:     op,
		ID:     id,
		Code:   CodeIO,
		Origin: origin,
		Msg:    inner.Error(),
		Inner:  inner,
	}
}

// ErrnoToCode maps a syscall errno to the closest Code.
func ErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return CodeNotFound
	case syscall.EEXIST:
		return CodeAlreadyExists
	case syscall.EBUSY:
		return CodeBusy
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidArgument
	case syscall.ENOSPC, syscall.ENOMEM:
		return CodeNoSpace
	case syscall.ERANGE:
		return CodeOutOfRange
	default:
		return CodeIO
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// PackedCode is the 64-bit opaque value that crosses the client/driver
// boundary as the sole failure channel: bits 63-56 carry the Code, bits
// 55-48 carry the Origin, and the low 32 bits carry the backend errno.
// Zero encodes success.
type PackedCode uint64

// Pack encodes e into its 64-bit representation. A nil *Error packs to 0.
func (e *Error) Pack() PackedCode {
	if e == nil {
		return 0
	}
	return PackedCode(uint64(e.Code)<<56 | uint64(e.Origin)<<48 | uint64(uint32(e.Errno)))
}

// Unpack decodes a PackedCode back into its constituent fields. A zero
// value decodes to (CodeOK, OriginPool, 0).
func Unpack(p PackedCode) (code Code, origin Origin, errno syscall.Errno) {
	code = Code(p >> 56)
	origin = Origin(p >> 48 & 0xff)
	errno = syscall.Errno(uint32(p))
	return
}

// Render renders a PackedCode as a human-readable string, tagging the
// originating component.
func Render(p PackedCode) string {
	if p == 0 {
		return "ok"
	}
	code, origin, errno := Unpack(p)
	if errno != 0 {
		return fmt.Sprintf("%s (origin=%s, errno=%d: %s)", code, origin, errno, errno.Error())
	}
	return fmt.Sprintf("%s (origin=%s)", code, origin)
}
