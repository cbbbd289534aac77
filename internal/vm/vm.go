// Package vm wraps the small slice of golang.org/x/sys/unix the mcache map
// and pool locking need: anonymous mmap, madvise, mincore, and flock. It
// exists so internal/mcache and the root pool type never touch unix
// directly.
package vm

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mpool-go/mpool/internal/errs"
)

// PageSize is the advice granularity mcache operates on.
const PageSize = 4096

// Advice mirrors the coarse madvise hints mcache routes to the OS.
type Advice int

const (
	AdviceNormal Advice = iota
	AdviceSequential
	AdviceRandom
	AdviceWillNeed
	AdviceDontNeed
)

func (a Advice) toUnix() int {
	switch a {
	case AdviceSequential:
		return unix.MADV_SEQUENTIAL
	case AdviceRandom:
		return unix.MADV_RANDOM
	case AdviceWillNeed:
		return unix.MADV_WILLNEED
	case AdviceDontNeed:
		return unix.MADV_DONTNEED
	default:
		return unix.MADV_NORMAL
	}
}

// Region is an anonymous, page-aligned mapping mcache uses as the backing
// store for a contiguous view over one or more mblocks. The reference
// backend (backend/mem) holds extent bytes in plain Go slices with no
// stable address, so mcache builds its own addressable region and copies
// committed bytes into it rather than mapping backend memory directly.
type Region struct {
	data []byte
}

// MapAnon creates a zero-filled anonymous mapping of size bytes, rounded up
// to a page boundary.
func MapAnon(size int) (*Region, error) {
	if size <= 0 {
		return nil, errs.New("vm.map-anon", errs.CodeInvalidArgument, errs.OriginMcache, "size must be positive")
	}
	rounded := roundUpPage(size)
	data, err := unix.Mmap(-1, 0, rounded, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errs.WrapBackend("vm.map-anon", 0, errs.OriginMcache, err)
	}
	return &Region{data: data}, nil
}

func roundUpPage(n int) int {
	if n%PageSize == 0 {
		return n
	}
	return (n/PageSize + 1) * PageSize
}

// Bytes exposes the region's backing slice.
func (r *Region) Bytes() []byte {
	return r.data
}

// Base returns the region's virtual base address.
func (r *Region) Base() uintptr {
	if len(r.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.data[0]))
}

// Page returns a pointer to the page containing byte offset.
func (r *Region) Page(offset int) (unsafe.Pointer, error) {
	if offset < 0 || offset >= len(r.data) {
		return nil, errs.New("vm.page", errs.CodeOutOfRange, errs.OriginMcache, "offset out of range")
	}
	pageStart := (offset / PageSize) * PageSize
	return unsafe.Pointer(&r.data[pageStart]), nil
}

// Advise applies advice to [offset, offset+length) of the region.
func (r *Region) Advise(offset, length int, advice Advice) error {
	if length < 0 || offset < 0 || offset+length > len(r.data) {
		return errs.New("vm.advise", errs.CodeOutOfRange, errs.OriginMcache, "range out of bounds")
	}
	if length == 0 {
		return nil
	}
	if err := unix.Madvise(r.data[offset:offset+length], advice.toUnix()); err != nil {
		return errs.WrapBackend("vm.advise", 0, errs.OriginMcache, err)
	}
	return nil
}

// Mincore reports how many pages of [offset, offset+length) are resident.
func (r *Region) Mincore(offset, length int) (resident int, total int, err error) {
	if length < 0 || offset < 0 || offset+length > len(r.data) {
		return 0, 0, errs.New("vm.mincore", errs.CodeOutOfRange, errs.OriginMcache, "range out of bounds")
	}
	if length == 0 {
		return 0, 0, nil
	}
	vec := make([]byte, (length+PageSize-1)/PageSize)
	if err := unix.Mincore(r.data[offset:offset+length], vec); err != nil {
		return 0, 0, errs.WrapBackend("vm.mincore", 0, errs.OriginMcache, err)
	}
	for _, b := range vec {
		if b&1 != 0 {
			resident++
		}
	}
	return resident, len(vec), nil
}

// Unmap releases the mapping.
func (r *Region) Unmap() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if err != nil {
		return errs.WrapBackend("vm.unmap", 0, errs.OriginMcache, err)
	}
	return nil
}

// Flock acquires an advisory lock on fd, exclusive or shared, failing
// immediately (rather than blocking) if already held.
func Flock(fd int, exclusive bool) error {
	how := unix.LOCK_SH | unix.LOCK_NB
	if exclusive {
		how = unix.LOCK_EX | unix.LOCK_NB
	}
	if err := unix.Flock(fd, how); err != nil {
		if err == unix.EWOULDBLOCK {
			return errs.New("vm.flock", errs.CodeBusy, errs.OriginPool, "pool is locked by another opener")
		}
		return errs.WrapBackend("vm.flock", 0, errs.OriginPool, err)
	}
	return nil
}

// Funlock releases a lock taken with Flock.
func Funlock(fd int) error {
	if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
		return errs.WrapBackend("vm.funlock", 0, errs.OriginPool, err)
	}
	return nil
}
