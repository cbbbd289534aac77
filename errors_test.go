package mpool

import (
	"errors"
	"strings"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("mblock.alloc", CodeInvalidArgument, OriginMblock, "class out of range")

	if err.Op != "mblock.alloc" {
		t.Errorf("Expected Op=mblock.alloc, got %s", err.Op)
	}

	if err.Code != CodeInvalidArgument {
		t.Errorf("Expected Code=CodeInvalidArgument, got %s", err.Code)
	}

	expected := "mpool: mblock.alloc: class out of range"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestObjectError(t *testing.T) {
	err := NewObjectError("mblock.commit", 123, CodeBusy, OriginMblock, "extent pinned")

	if err.ID != 123 {
		t.Errorf("Expected ID=123, got %d", err.ID)
	}

	expected := "mpool: mblock.commit: extent pinned (id=0x7b)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapBackendErrorErrno(t *testing.T) {
	err := WrapBackendError("mlog.read-next", 42, OriginMlog, syscall.ENOENT)

	if err.Code != CodeNotFound {
		t.Errorf("Expected Code=CodeNotFound, got %s", err.Code)
	}

	if err.Errno != syscall.ENOENT {
		t.Errorf("Expected Errno=ENOENT, got %v", err.Errno)
	}

	if !errors.Is(err, syscall.ENOENT) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOENT")
	}
}

func TestWrapBackendErrorReannotatesInner(t *testing.T) {
	inner := NewObjectError("registry.find", 7, CodeNotFound, OriginRegistry, "no such object")
	err := WrapBackendError("mdc.open", 7, OriginMDC, inner)

	if err.Op != "mdc.open" {
		t.Errorf("Expected Op=mdc.open, got %s", err.Op)
	}

	if err.Code != CodeNotFound {
		t.Errorf("Expected Code=CodeNotFound, got %s", err.Code)
	}
}

func TestWrapBackendErrorNilIsNil(t *testing.T) {
	if WrapBackendError("op", 0, OriginPool, nil) != nil {
		t.Error("Expected nil wrap of nil error")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("mdc.sync", CodeInvalidState, OriginMDC, "already committed")

	if !IsCode(err, CodeInvalidState) {
		t.Error("IsCode should return true for matching code")
	}

	if IsCode(err, CodeIO) {
		t.Error("IsCode should return false for non-matching code")
	}

	if IsCode(nil, CodeInvalidState) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewObjectError("mlog.read-next", 3, CodeNotFound, OriginMlog, "")

	if !errors.Is(err, &Error{Code: CodeNotFound}) {
		t.Error("errors.Is should match on Code")
	}

	if errors.Is(err, &Error{Code: CodeBusy}) {
		t.Error("errors.Is should not match a different Code")
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	err := NewObjectError("mdc.open", 0x99, CodeCorrupt, OriginMDC, "bad generation tie-break")
	err.Errno = syscall.EIO

	packed := err.Pack()
	code, origin, errno := UnpackCode(packed)

	if code != CodeCorrupt {
		t.Errorf("Expected Code=CodeCorrupt, got %s", code)
	}
	if origin != OriginMDC {
		t.Errorf("Expected Origin=OriginMDC, got %s", origin)
	}
	if errno != syscall.EIO {
		t.Errorf("Expected Errno=EIO, got %v", errno)
	}
}

func TestPackNilError(t *testing.T) {
	var err *Error
	if err.Pack() != 0 {
		t.Error("Expected nil *Error to pack to 0")
	}
}

func TestUnpackZeroIsOK(t *testing.T) {
	code, origin, errno := UnpackCode(0)
	if code != CodeOK || origin != OriginPool || errno != 0 {
		t.Errorf("Expected zero value to unpack to (OK, Pool, 0), got (%s, %s, %v)", code, origin, errno)
	}
}

func TestRenderCode(t *testing.T) {
	if RenderCode(0) != "ok" {
		t.Errorf("Expected RenderCode(0)=ok, got %q", RenderCode(0))
	}

	err := NewError("pool.open", CodeBusy, OriginPool, "")
	err.Errno = syscall.EBUSY
	rendered := RenderCode(err.Pack())
	if !strings.Contains(rendered, "busy") || !strings.Contains(rendered, "pool") {
		t.Errorf("Expected rendered code to mention busy and pool, got %q", rendered)
	}
}

func TestErrnoToCodeMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected Code
	}{
		{syscall.ENOENT, CodeNotFound},
		{syscall.EEXIST, CodeAlreadyExists},
		{syscall.EBUSY, CodeBusy},
		{syscall.EINVAL, CodeInvalidArgument},
		{syscall.ENOSPC, CodeNoSpace},
		{syscall.ERANGE, CodeOutOfRange},
		{syscall.ECONNRESET, CodeIO},
	}

	for _, tc := range testCases {
		code := ErrnoToCode(tc.errno)
		if code != tc.expected {
			t.Errorf("ErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}
