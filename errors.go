// Package mpool provides a user-space client library for object storage on
// block devices: mblocks (bulk append-once extents), mlogs (append-only
// record logs), MDCs (metadata containers built from a pair of mlogs with
// online compaction), and an mcache facility that memory-maps committed
// mblocks for zero-copy page access.
package mpool

import (
	"syscall"

	"github.com/mpool-go/mpool/internal/errs"
)

// Code, Error and friends live in internal/errs so that the manager
// packages (registry, mblock, mlog, mdc, mcache) can construct and compare
// them without importing this package. These are re-exports of the same
// concrete types, not copies.
type (
	Code       = errs.Code
	Origin     = errs.Origin
	Error      = errs.Error
	PackedCode = errs.PackedCode
)

const (
	CodeOK              = errs.CodeOK
	CodeInvalidArgument = errs.CodeInvalidArgument
	CodeNotFound        = errs.CodeNotFound
	CodeAlreadyExists   = errs.CodeAlreadyExists
	CodeNoSpace         = errs.CodeNoSpace
	CodeBusy            = errs.CodeBusy
	CodeOverflow        = errs.CodeOverflow
	CodeOutOfRange      = errs.CodeOutOfRange
	CodeCorrupt         = errs.CodeCorrupt
	CodeIO              = errs.CodeIO
	CodeInvalidState    = errs.CodeInvalidState

	OriginPool     = errs.OriginPool
	OriginRegistry = errs.OriginRegistry
	OriginMblock   = errs.OriginMblock
	OriginMlog     = errs.OriginMlog
	OriginMDC      = errs.OriginMDC
	OriginMcache   = errs.OriginMcache
)

// NewError creates a structured error with no object ID context.
func NewError(op string, code Code, origin Origin, msg string) *Error {
	return errs.New(op, code, origin, msg)
}

// NewObjectError creates a structured error scoped to a specific object ID.
func NewObjectError(op string, id uint64, code Code, origin Origin, msg string) *Error {
	return errs.NewObject(op, id, code, origin, msg)
}

// WrapBackendError wraps a backend-reported error with mpool context. See
// internal/errs.WrapBackend for the mapping rules.
func WrapBackendError(op string, id uint64, origin Origin, inner error) *Error {
	return errs.WrapBackend(op, id, origin, inner)
}

// IsCode reports whether err is (or wraps) an *Error with the given Code.
func IsCode(err error, code Code) bool {
	return errs.IsCode(err, code)
}

// ErrnoToCode maps a backend syscall errno to the closest Code.
func ErrnoToCode(errno syscall.Errno) Code {
	return errs.ErrnoToCode(errno)
}

// UnpackCode decodes a PackedCode back into its constituent fields.
func UnpackCode(p PackedCode) (code Code, origin Origin, errno syscall.Errno) {
	return errs.Unpack(p)
}

// RenderCode renders a PackedCode as a human-readable string.
func RenderCode(p PackedCode) string {
	return errs.Render(p)
}
