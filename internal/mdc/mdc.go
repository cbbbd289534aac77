// Package mdc implements the MDC engine: a crash-safe metadata container
// built from a pair of mlogs used in alternation, with online compaction
// and recovery-on-open.
package mdc

import (
	"sync"
	"time"

	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
	"github.com/mpool-go/mpool/internal/mlog"
)

// ErrEndOfStream is returned by Read when the authoritative mlog is
// exhausted. It carries CodeOutOfRange; compare with errors.Is, which
// matches on Code alone.
var ErrEndOfStream = errs.New("mdc.read", errs.CodeOutOfRange, errs.OriginMDC, "end of stream")

// OpenFlags mirrors mlog.OpenFlags at the MDC granularity: SkipSerialization
// tells the engine the caller warrants single-threaded access and disables
// its internal mutex.
type OpenFlags struct {
	SkipSerialization bool
	ReadOnly          bool
}

// Manager drives MDC lifecycle on top of an mlog.Manager.
type Manager struct {
	mlogs *mlog.Manager
	log   interfaces.Logger
	obs   interfaces.Observer
}

// New creates an MDC manager on top of mlogs.
func New(mlogs *mlog.Manager, log interfaces.Logger, obs interfaces.Observer) *Manager {
	return &Manager{mlogs: mlogs, log: log, obs: obs}
}

func (m *Manager) observe(bytes uint64, start time.Time, success bool) {
	if m.obs == nil {
		return
	}
	m.obs.ObserveMDCOp("mdc", bytes, time.Since(start), success)
}

// Alloc allocates the two mlogs backing a new MDC, both at the same media
// class and capacity target.
func (m *Manager) Alloc(mediaClass int, capacity int64) (id1, id2 interfaces.ObjectID, err error) {
	id1, _, err = m.mlogs.Allocate(mediaClass, capacity)
	if err != nil {
		return 0, 0, err
	}
	id2, _, err = m.mlogs.Allocate(mediaClass, capacity)
	if err != nil {
		return 0, 0, err
	}
	return id1, id2, nil
}

// Commit commits both mlogs as a single logical transaction: if the second
// commit fails, the first is aborted so recovery never observes a
// half-committed pair.
func (m *Manager) Commit(id1, id2 interfaces.ObjectID) error {
	if err := m.mlogs.Commit(id1); err != nil {
		return err
	}
	if err := m.mlogs.Commit(id2); err != nil {
		if abortErr := m.mlogs.Abort(id1); abortErr != nil {
			m.log.Error("mdc commit rollback failed", "id", uint64(id1), "err", abortErr)
		}
		return err
	}
	return nil
}

// Destroy deletes both mlogs. Legal only after Close.
func (m *Manager) Destroy(id1, id2 interfaces.ObjectID) error {
	if err := m.mlogs.Delete(id1); err != nil {
		return err
	}
	return m.mlogs.Delete(id2)
}

// scanResult classifies one mlog's content during recovery.
type scanResult struct {
	empty       bool
	hasMarkers  bool
	complete    bool // compaction-start ... compaction-end, terminated
	recordCount int
}

// scan walks h from the beginning and classifies its content for
// recovery.
func scan(h *mlog.Handle) (scanResult, error) {
	var res scanResult
	h.ReadInit()
	buf := make([]byte, 4096)

	state := 0 // 0 = none seen, 1 = saw compaction-start (open), 2 = saw compaction-end (closed)
	for {
		n, rtype, err := h.ReadNext(buf)
		if err != nil {
			if errs.IsCode(err, errs.CodeOverflow) {
				buf = make([]byte, n)
				continue
			}
			if errs.IsCode(err, errs.CodeOutOfRange) {
				break // exhausted
			}
			return res, err
		}

		switch rtype {
		case interfaces.RecordCompactStart:
			res.hasMarkers = true
			state = 1
		case interfaces.RecordCompactEnd:
			if state != 1 {
				return res, errs.New("mdc.recover", errs.CodeCorrupt, errs.OriginMDC, "compaction-end without matching compaction-start")
			}
			state = 2
		default:
			res.recordCount++
		}
	}

	res.empty = res.recordCount == 0 && !res.hasMarkers
	res.complete = state == 2
	return res, nil
}

// Handle is an open MDC: the two underlying mlog handles, which index is
// currently active, and the read cursor state.
type Handle struct {
	mgr   *Manager
	flags OpenFlags

	mu sync.Mutex

	logs   [2]*mlog.Handle
	active int // 0 or 1

	compacting bool
	closed     bool
}

// Open opens both mlogs, reads both generations, and runs recovery to pick
// the authoritative mlog.
func (m *Manager) Open(id1, id2 interfaces.ObjectID, flags OpenFlags) (*Handle, error) {
	mlogFlags := mlog.OpenFlags{SkipExternalSerialization: flags.SkipSerialization, ReadOnly: flags.ReadOnly}

	h1, g1, err := m.mlogs.Open(id1, mlogFlags)
	if err != nil {
		return nil, err
	}
	h2, g2, err := m.mlogs.Open(id2, mlogFlags)
	if err != nil {
		h1.Close()
		return nil, err
	}

	activeIdx, err := recover2(h1, g1, h2, g2)
	if err != nil {
		h1.Close()
		h2.Close()
		return nil, err
	}

	h := &Handle{
		mgr:    m,
		flags:  flags,
		logs:   [2]*mlog.Handle{h1, h2},
		active: activeIdx,
	}
	// Recovery scans leave the mlog cursors wherever they stopped; position
	// the read cursor so Read works immediately after Open.
	if err := h.rewind(); err != nil {
		h1.Close()
		h2.Close()
		return nil, err
	}
	return h, nil
}

// recover2 decides which of the pair is authoritative after an open,
// returning its index (0 or 1).
func recover2(h1 *mlog.Handle, g1 uint64, h2 *mlog.Handle, g2 uint64) (int, error) {
	handles := [2]*mlog.Handle{h1, h2}
	gens := [2]uint64{g1, g2}

	var candidate, other int
	switch {
	case gens[0] > gens[1]:
		candidate, other = 0, 1
	case gens[1] > gens[0]:
		candidate, other = 1, 0
	default:
		// Tie: the valid, non-empty mlog wins; both valid+non-empty is
		// a corruption invariant violation. At equal generations a record
		// stream with no markers (pre-first-compaction) counts as valid.
		r0, err := scan(handles[0])
		if err != nil {
			return 0, err
		}
		r1, err := scan(handles[1])
		if err != nil {
			return 0, err
		}
		v0 := !r0.empty && (r0.complete || !r0.hasMarkers)
		v1 := !r1.empty && (r1.complete || !r1.hasMarkers)
		switch {
		case v0 && v1:
			return 0, errs.New("mdc.recover", errs.CodeCorrupt, errs.OriginMDC, "both mlogs valid and non-empty at equal generation")
		case v0:
			return 0, nil
		case v1:
			return 1, nil
		default:
			return 0, nil // both empty/trivial: either is fine, pick 0
		}
	}

	// The higher-generation mlog is authoritative only if its content shows
	// a finished compaction; anything else at a strictly higher generation
	// means a crash somewhere in the cstart..cend window.
	res, err := scan(handles[candidate])
	if err != nil {
		return 0, err
	}

	switch {
	case res.complete:
		return candidate, nil
	case res.empty:
		// A crash between cstart's erase and its start-marker write leaves
		// the standby empty at a higher generation while the record stream
		// still lives in the other mlog. Only a pair that is empty on both
		// sides lets the candidate win.
		if handles[other].Empty() {
			return candidate, nil
		}
		return other, nil
	default:
		// Crash mid-compaction: a start marker with no end, or a record
		// stream the other mlog's generation never acknowledged. The other
		// mlog is authoritative; erase the candidate so it can be reused
		// for the next compaction attempt.
		if _, err := handles[candidate].Erase(gens[candidate] + 1); err != nil {
			return 0, err
		}
		return other, nil
	}
}

func (h *Handle) lock() {
	if !h.flags.SkipSerialization {
		h.mu.Lock()
	}
}

func (h *Handle) unlock() {
	if !h.flags.SkipSerialization {
		h.mu.Unlock()
	}
}

// Close flushes any buffered appends and closes both mlogs.
func (h *Handle) Close() error {
	h.lock()
	defer h.unlock()
	if h.closed {
		return errs.New("mdc.close", errs.CodeInvalidState, errs.OriginMDC, "already closed")
	}
	h.closed = true

	var firstErr error
	for _, l := range h.logs {
		if err := l.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, l := range h.logs {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sync flushes the active mlog.
func (h *Handle) Sync() error {
	h.lock()
	defer h.unlock()
	return h.logs[h.active].Flush()
}

// Rewind positions the read cursor at the first record of the
// authoritative mlog after its most recent compaction-start marker, or at
// record 0 if no markers exist.
func (h *Handle) Rewind() error {
	h.lock()
	defer h.unlock()
	return h.rewind()
}

func (h *Handle) rewind() error {
	active := h.logs[h.active]
	active.ReadInit()

	buf := make([]byte, 4096)
	sawMarker := false
	for {
		n, rtype, err := active.ReadNext(buf)
		if err != nil {
			if errs.IsCode(err, errs.CodeOverflow) {
				buf = make([]byte, n)
				continue
			}
			if errs.IsCode(err, errs.CodeOutOfRange) {
				break
			}
			return err
		}
		if rtype == interfaces.RecordCompactStart {
			sawMarker = true
		}
	}

	active.ReadInit()
	if !sawMarker {
		return nil
	}
	// Replay from the start and stop right after the last compaction-start
	// marker, leaving the cursor where Read should resume.
	for {
		n, rtype, err := active.ReadNext(buf)
		if err != nil {
			if errs.IsCode(err, errs.CodeOverflow) {
				buf = make([]byte, n)
				continue
			}
			return err
		}
		if rtype == interfaces.RecordCompactStart {
			return nil
		}
	}
}

// Read returns the next user record, transparently skipping compaction
// markers. Returns ErrEndOfStream on exhaustion.
func (h *Handle) Read(buf []byte) (int, error) {
	h.lock()
	defer h.unlock()

	active := h.logs[h.active]
	for {
		n, rtype, err := active.ReadNext(buf)
		if err != nil {
			if errs.IsCode(err, errs.CodeOutOfRange) {
				return 0, ErrEndOfStream
			}
			return n, err
		}
		if rtype == interfaces.RecordCompactStart || rtype == interfaces.RecordCompactEnd {
			continue
		}
		return n, nil
	}
}

// Append appends data to the active mlog (or the new active, if a
// compaction is in progress).
func (h *Handle) Append(data []byte, sync bool) error {
	h.lock()
	defer h.unlock()
	start := time.Now()
	err := h.logs[h.active].Append(data, sync)
	h.mgr.observe(uint64(len(data)), start, err == nil)
	return err
}

// Cstart begins compaction: swaps active/standby, erases the new active
// (bumping its generation past the old active's), and writes a
// compaction-start marker.
func (h *Handle) Cstart() error {
	h.lock()
	defer h.unlock()

	if h.compacting {
		return errs.New("mdc.cstart", errs.CodeInvalidState, errs.OriginMDC, "compaction already in progress")
	}

	oldActive := h.active
	newActive := 1 - h.active
	oldGen := h.logs[oldActive].Generation()

	if _, err := h.logs[newActive].Erase(oldGen + 1); err != nil {
		return err
	}

	if err := appendMarker(h.logs[newActive], interfaces.RecordCompactStart); err != nil {
		return err
	}

	h.active = newActive
	h.compacting = true
	return nil
}

// appendMarker writes a zero-length record tagged as a compaction marker.
// It goes through the same backend AppendRecord path as user records but
// with the reserved record type, since mlog.Handle.Append always tags
// RecordUser.
func appendMarker(h *mlog.Handle, rtype interfaces.RecordType) error {
	return h.AppendRecordTyped(rtype, nil, true)
}

// Cend writes a compaction-end marker to the current active, flushes, and
// erases the former active to reclaim space.
func (h *Handle) Cend() error {
	h.lock()
	defer h.unlock()

	if !h.compacting {
		return errs.New("mdc.cend", errs.CodeInvalidState, errs.OriginMDC, "no compaction in progress")
	}

	if err := appendMarker(h.logs[h.active], interfaces.RecordCompactEnd); err != nil {
		return err
	}
	if err := h.logs[h.active].Flush(); err != nil {
		return err
	}

	former := 1 - h.active
	if _, err := h.logs[former].Erase(h.logs[h.active].Generation()); err != nil {
		return err
	}

	h.compacting = false
	return nil
}

// Usage estimates bytes currently used in the active mlog.
func (h *Handle) Usage() int64 {
	h.lock()
	defer h.unlock()
	return h.logs[h.active].Len()
}
