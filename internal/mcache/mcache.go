// Package mcache implements the mcache map: a contiguous virtual view
// over an ordered vector of committed mblocks, with page-level OS advice
// and residency queries.
//
// The reference backend (backend/mem) keeps extent bytes in plain Go
// slices with no address a caller could safely retain across a GC cycle,
// so unlike a real block-device driver's mmap-of-device-memory, this
// package builds its own anonymous region (internal/vm) and copies
// committed bytes in at Mmap time. That makes every map contiguous by
// construction, so Getbase reports no base only for an index outside the
// map.
package mcache

import (
	"time"
	"unsafe"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mpool-go/mpool/internal/constants"
	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
	"github.com/mpool-go/mpool/internal/mblock"
	"github.com/mpool-go/mpool/internal/vm"
)

// Advice re-exports vm's advice enum at the mcache API boundary.
type Advice = vm.Advice

const (
	AdviceNormal     = vm.AdviceNormal
	AdviceSequential = vm.AdviceSequential
	AdviceRandom     = vm.AdviceRandom
	AdviceWillNeed   = vm.AdviceWillNeed
	AdviceDontNeed   = vm.AdviceDontNeed
)

// pageCacheSize bounds the Getpages/Getpagesv resolution memo.
const pageCacheSize = 4096

// Manager drives mcache map lifecycle against the mblock manager.
type Manager struct {
	mblocks *mblock.Manager
	log     interfaces.Logger
	obs     interfaces.Observer
}

// New creates an mcache manager bound to mblocks.
func New(mblocks *mblock.Manager, log interfaces.Logger, obs interfaces.Observer) *Manager {
	return &Manager{mblocks: mblocks, log: log, obs: obs}
}

func (m *Manager) observe(start time.Time, success bool) {
	if m.obs == nil {
		return
	}
	m.obs.ObserveMcacheOp("mcache", time.Since(start), success)
}

// segment records where mbidx's bytes live within the map's region.
type segment struct {
	id     interfaces.ObjectID
	offset int // byte offset within the region
	length int // byte length, page-rounded
}

type pageKey struct {
	mbidx  int
	pageNo int
}

// Handle is an open mcache map.
type Handle struct {
	mgr      *Manager
	region   *vm.Region
	segments []segment
	pageLRU  *lru.Cache[pageKey, unsafe.Pointer]
}

// Mmap creates a map over mbidv, in order, pinning every mblock for the
// map's lifetime. advice is applied to the whole region once mapped.
func (m *Manager) Mmap(mbidv []interfaces.ObjectID, advice Advice) (*Handle, error) {
	start := time.Now()
	if len(mbidv) == 0 {
		return nil, errs.New("mcache.mmap", errs.CodeInvalidArgument, errs.OriginMcache, "empty mblock vector")
	}

	segments := make([]segment, 0, len(mbidv))
	total := 0
	for _, id := range mbidv {
		props, err := m.mblocks.GetProperties(id)
		if err != nil {
			return nil, err
		}
		if !props.Committed {
			return nil, errs.NewObject("mcache.mmap", uint64(id), errs.CodeInvalidState, errs.OriginMcache, "mblock not committed")
		}
		length := int(props.Written)
		if length == 0 {
			length = int(constants.DefaultPageSize)
		}
		rounded := roundUp(length, int(constants.DefaultPageSize))
		segments = append(segments, segment{id: id, offset: total, length: rounded})
		total += rounded
	}

	region, err := vm.MapAnon(total)
	if err != nil {
		return nil, err
	}

	pinned := make([]interfaces.ObjectID, 0, len(mbidv))
	for _, seg := range segments {
		if err := m.mblocks.Pin(seg.id); err != nil {
			for _, id := range pinned {
				_ = m.mblocks.Unpin(id)
			}
			region.Unmap()
			return nil, err
		}
		pinned = append(pinned, seg.id)

		if _, err := m.mblocks.Read(seg.id, 0, region.Bytes()[seg.offset:seg.offset+seg.length]); err != nil {
			for _, id := range pinned {
				_ = m.mblocks.Unpin(id)
			}
			region.Unmap()
			return nil, err
		}
	}

	if err := region.Advise(0, total, advice); err != nil {
		m.log.Warn("mcache mmap advise failed", "err", err)
	}

	cache, _ := lru.New[pageKey, unsafe.Pointer](pageCacheSize)
	h := &Handle{mgr: m, region: region, segments: segments, pageLRU: cache}
	m.observe(start, true)
	return h, nil
}

func roundUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return (n/align + 1) * align
}

// Munmap releases the map and unpins every mblock.
func (h *Handle) Munmap() error {
	var firstErr error
	for _, seg := range h.segments {
		if err := h.mgr.mblocks.Unpin(seg.id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := h.region.Unmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (h *Handle) findSegment(mbidx int) (segment, error) {
	if mbidx < 0 || mbidx >= len(h.segments) {
		return segment{}, errs.New("mcache.segment", errs.CodeNotFound, errs.OriginMcache, "no such mblock index in map")
	}
	return h.segments[mbidx], nil
}

// Madvise applies advice to [offset, offset+length) of mblock mbidx.
// length == -1 addresses to end-of-map from (mbidx, offset); (0, 0, -1)
// addresses the whole map.
func (h *Handle) Madvise(mbidx int, offset int64, length int64, advice Advice) error {
	if mbidx == 0 && offset == 0 && length < 0 {
		return h.region.Advise(0, len(h.region.Bytes()), advice)
	}
	seg, err := h.findSegment(mbidx)
	if err != nil {
		return err
	}
	start := seg.offset + int(offset)
	if length < 0 {
		// To end-of-map from (mbidx, offset).
		end := len(h.region.Bytes())
		return h.region.Advise(start, end-start, advice)
	}
	return h.region.Advise(start, int(length), advice)
}

// Getbase returns the virtual base address of mbidx if the mapping is
// contiguous at that index. The copy-based reference region is always
// contiguous, so ok is always true for a valid index.
func (h *Handle) Getbase(mbidx int) (addr uintptr, ok bool) {
	seg, err := h.findSegment(mbidx)
	if err != nil {
		return 0, false
	}
	return h.region.Base() + uintptr(seg.offset), true
}

// Getpages resolves offsets within mblock mbidx to page pointers.
func (h *Handle) Getpages(mbidx int, offsets []int64) ([]unsafe.Pointer, error) {
	seg, err := h.findSegment(mbidx)
	if err != nil {
		return nil, err
	}
	pages := make([]unsafe.Pointer, len(offsets))
	for i, off := range offsets {
		pageNo := int(off) / vm.PageSize
		key := pageKey{mbidx: mbidx, pageNo: pageNo}
		if p, ok := h.pageLRU.Get(key); ok {
			pages[i] = p
			continue
		}
		p, err := h.region.Page(seg.offset + int(off))
		if err != nil {
			return nil, err
		}
		h.pageLRU.Add(key, p)
		pages[i] = p
	}
	return pages, nil
}

// Getpagesv resolves offsets across multiple mblocks; the i-th offset
// applies within the i-th mbidx.
func (h *Handle) Getpagesv(mbidxv []int, offsets []int64) ([]unsafe.Pointer, error) {
	if len(mbidxv) != len(offsets) {
		return nil, errs.New("mcache.getpagesv", errs.CodeInvalidArgument, errs.OriginMcache, "mbidxv and offsets length mismatch")
	}
	pages := make([]unsafe.Pointer, len(offsets))
	for i := range offsets {
		p, err := h.Getpages(mbidxv[i], []int64{offsets[i]})
		if err != nil {
			return nil, err
		}
		pages[i] = p[0]
	}
	return pages, nil
}

// Purge advises the OS to drop resident pages across the whole map.
func (h *Handle) Purge() error {
	return h.region.Advise(0, len(h.region.Bytes()), AdviceDontNeed)
}

// Mincore counts resident and virtual pages across the whole map.
func (h *Handle) Mincore() (rss int, vss int, err error) {
	return h.region.Mincore(0, len(h.region.Bytes()))
}
