// Package mlog implements the mlog manager: an append-only record log
// with a read cursor, erase, and a generation counter. An mlog is
// allocated and committed via the registry the same way an mblock is;
// once committed it must be Open'd before Append/Read are legal.
package mlog

import (
	"sync"
	"time"

	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
	"github.com/mpool-go/mpool/internal/registry"
)

// OpenFlags carries the two independent open modes an mlog supports.
type OpenFlags struct {
	SkipExternalSerialization bool
	ReadOnly                  bool
}

// Handle is an open mlog: a registry descriptor plus the mutable read
// cursor and open-mode flags. A Handle is obtained from Manager.Open and
// must be closed exactly once.
type Handle struct {
	mgr   *Manager
	desc  *registry.Descriptor
	flags OpenFlags

	mu     sync.Mutex // guards cursor when serialization isn't skipped
	cursor int64
	closed bool
}

// Manager drives mlog lifecycle against a backend and registry, emitting
// metrics through obs and logging through log.
type Manager struct {
	backend interfaces.LogBackend
	reg     *registry.Registry
	log     interfaces.Logger
	obs     interfaces.Observer
}

// New creates an mlog manager bound to backend and reg.
func New(backend interfaces.LogBackend, reg *registry.Registry, log interfaces.Logger, obs interfaces.Observer) *Manager {
	return &Manager{backend: backend, reg: reg, log: log, obs: obs}
}

func (m *Manager) observe(bytes uint64, start time.Time, success bool) {
	if m.obs == nil {
		return
	}
	m.obs.ObserveMlogOp("mlog", bytes, time.Since(start), success)
}

// Allocate reserves a new mlog at the given media class and capacity
// target, registering it in the allocated state.
func (m *Manager) Allocate(mediaClass int, capacityTarget int64) (interfaces.ObjectID, interfaces.LogProps, error) {
	id, props, err := m.backend.AllocateLog(mediaClass, capacityTarget)
	if err != nil {
		return 0, interfaces.LogProps{}, errs.WrapBackend("mlog.allocate", 0, errs.OriginMlog, err)
	}
	if _, err := m.reg.Insert(id, interfaces.KindMlog, mediaClass); err != nil {
		return 0, interfaces.LogProps{}, err
	}
	m.log.Debug("mlog allocated", "id", uint64(id), "class", mediaClass)
	return id, props, nil
}

// Commit transitions an allocated mlog to committed.
func (m *Manager) Commit(id interfaces.ObjectID) error {
	d, err := m.reg.Find(id, interfaces.KindMlog)
	if err != nil {
		return err
	}
	if d.State != registry.StateAllocated {
		return errs.NewObject("mlog.commit", uint64(id), errs.CodeInvalidState, errs.OriginMlog, "mlog not in allocated state")
	}
	if err := m.backend.CommitLog(id); err != nil {
		return errs.WrapBackend("mlog.commit", uint64(id), errs.OriginMlog, err)
	}
	return m.reg.SetState(id, registry.StateCommitted)
}

// Abort releases an allocated (not yet committed) mlog.
func (m *Manager) Abort(id interfaces.ObjectID) error {
	d, err := m.reg.Find(id, interfaces.KindMlog)
	if err != nil {
		return err
	}
	if d.State != registry.StateAllocated {
		return errs.NewObject("mlog.abort", uint64(id), errs.CodeInvalidState, errs.OriginMlog, "mlog not in allocated state")
	}
	if err := m.backend.AbortLog(id); err != nil {
		return errs.WrapBackend("mlog.abort", uint64(id), errs.OriginMlog, err)
	}
	if err := m.reg.SetState(id, registry.StateAborted); err != nil {
		return err
	}
	return m.reg.Remove(id)
}

// Delete releases a committed mlog. The registry entry is removed only when
// no other reference (such as an open handle) is outstanding at this point;
// otherwise it stays in the registry in the deleted state, as Put only
// drops the count and never removes an entry.
func (m *Manager) Delete(id interfaces.ObjectID) error {
	d, err := m.reg.FindGet(id, interfaces.KindMlog)
	if err != nil {
		return err
	}

	if d.State != registry.StateCommitted {
		m.reg.Put(d)
		return errs.NewObject("mlog.delete", uint64(id), errs.CodeInvalidState, errs.OriginMlog, "mlog not committed")
	}
	if err := m.backend.DeleteLog(id); err != nil {
		m.reg.Put(d)
		return errs.WrapBackend("mlog.delete", uint64(id), errs.OriginMlog, err)
	}
	if err := m.reg.SetState(id, registry.StateDeleted); err != nil {
		m.reg.Put(d)
		return err
	}
	if err := m.reg.Put(d); err != nil {
		return err
	}
	if err := m.reg.Remove(id); err != nil && !errs.IsCode(err, errs.CodeBusy) {
		return err
	}
	return nil
}

// Resolve looks up id's descriptor without taking a reference, mirroring
// the registry's find-without-ref for mlog handles.
func (m *Manager) Resolve(id interfaces.ObjectID) (*registry.Descriptor, error) {
	return m.reg.Find(id, interfaces.KindMlog)
}

// FindGet resolves id and takes a reference on its descriptor. Every
// successful FindGet must be balanced by one Put.
func (m *Manager) FindGet(id interfaces.ObjectID) (*registry.Descriptor, error) {
	return m.reg.FindGet(id, interfaces.KindMlog)
}

// Put releases a reference obtained from FindGet.
func (m *Manager) Put(d *registry.Descriptor) error {
	return m.reg.Put(d)
}

// Open opens a committed mlog for append/read, returning a Handle and the
// current generation number.
func (m *Manager) Open(id interfaces.ObjectID, flags OpenFlags) (*Handle, uint64, error) {
	d, err := m.reg.FindGet(id, interfaces.KindMlog)
	if err != nil {
		return nil, 0, err
	}
	if d.State != registry.StateCommitted {
		m.reg.Put(d)
		return nil, 0, errs.NewObject("mlog.open", uint64(id), errs.CodeInvalidState, errs.OriginMlog, "mlog not committed")
	}
	gen := m.backend.Generation(id)
	return &Handle{mgr: m, desc: d, flags: flags}, gen, nil
}

// Close drains in-flight appends and releases the handle's registry
// reference. After Close the read cursor is undefined; the Handle must not
// be used again.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errs.NewObject("mlog.close", uint64(h.desc.ID), errs.CodeInvalidState, errs.OriginMlog, "already closed")
	}
	if err := h.mgr.backend.Flush(h.desc.ID); err != nil {
		return errs.WrapBackend("mlog.close", uint64(h.desc.ID), errs.OriginMlog, err)
	}
	h.closed = true
	return h.mgr.reg.Put(h.desc)
}

func (h *Handle) checkWritable() error {
	if h.closed {
		return errs.NewObject("mlog.append", uint64(h.desc.ID), errs.CodeInvalidState, errs.OriginMlog, "handle closed")
	}
	if h.flags.ReadOnly {
		return errs.NewObject("mlog.append", uint64(h.desc.ID), errs.CodeInvalidArgument, errs.OriginMlog, "opened read-only")
	}
	return nil
}

// Append writes one record. If sync, returns only after durable
// persistence.
func (h *Handle) Append(data []byte, sync bool) error {
	return h.AppendVector([][]byte{data}, sync)
}

// AppendVector gathers iov into a single record, same contract as Append.
func (h *Handle) AppendVector(iov [][]byte, sync bool) error {
	return h.AppendRecordTyped(interfaces.RecordUser, iov, sync)
}

// AppendRecordTyped writes one record tagged with rtype. Callers outside
// this package should only ever pass RecordUser; the mdc package uses the
// reserved marker types to frame compaction boundaries in the same mlog
// stream it otherwise treats as opaque.
func (h *Handle) AppendRecordTyped(rtype interfaces.RecordType, iov [][]byte, sync bool) error {
	if !h.flags.SkipExternalSerialization {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	if err := h.checkWritable(); err != nil {
		return err
	}

	var n uint64
	for _, v := range iov {
		n += uint64(len(v))
	}
	start := time.Now()
	err := h.mgr.backend.AppendRecord(h.desc.ID, rtype, iov, sync)
	h.mgr.observe(n, start, err == nil)
	if err != nil {
		return errs.WrapBackend("mlog.append", uint64(h.desc.ID), errs.OriginMlog, err)
	}
	return nil
}

// ReadInit positions the read cursor at the first record.
func (h *Handle) ReadInit() {
	if !h.flags.SkipExternalSerialization {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	h.cursor = 0
}

// ReadNext returns the next record's bytes into buf. On a too-small buffer
// it returns CodeOverflow with the required length and does not advance
// the cursor.
func (h *Handle) ReadNext(buf []byte) (int, interfaces.RecordType, error) {
	if !h.flags.SkipExternalSerialization {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	start := time.Now()
	n, rtype, next, err := h.mgr.backend.ReadAt(h.desc.ID, h.cursor, buf)
	h.mgr.observe(uint64(n), start, err == nil)
	if err != nil {
		return n, rtype, errs.WrapBackend("mlog.read-next", uint64(h.desc.ID), errs.OriginMlog, err)
	}
	h.cursor = next
	return n, rtype, nil
}

// SeekReadNext advances the cursor by skip bytes (which must land on a
// record boundary) and returns the next record.
func (h *Handle) SeekReadNext(skip int64, buf []byte) (int, interfaces.RecordType, error) {
	if !h.flags.SkipExternalSerialization {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	h.cursor += skip
	n, rtype, next, err := h.mgr.backend.ReadAt(h.desc.ID, h.cursor, buf)
	if err != nil {
		return n, rtype, errs.WrapBackend("mlog.seek-read-next", uint64(h.desc.ID), errs.OriginMlog, err)
	}
	h.cursor = next
	return n, rtype, nil
}

// Flush forces all buffered appends to stable storage.
func (h *Handle) Flush() error {
	if err := h.mgr.backend.Flush(h.desc.ID); err != nil {
		return errs.WrapBackend("mlog.flush", uint64(h.desc.ID), errs.OriginMlog, err)
	}
	return nil
}

// Len returns the current logical length in bytes.
func (h *Handle) Len() int64 {
	return h.mgr.backend.Len(h.desc.ID)
}

// Empty reports whether the mlog currently has zero length.
func (h *Handle) Empty() bool {
	return h.Len() == 0
}

// Generation returns the mlog's current generation counter.
func (h *Handle) Generation() uint64 {
	return h.mgr.backend.Generation(h.desc.ID)
}

// Erase discards all records and bumps the generation to at least minGen.
func (h *Handle) Erase(minGen uint64) (uint64, error) {
	if !h.flags.SkipExternalSerialization {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	gen, err := h.mgr.backend.Erase(h.desc.ID, minGen)
	if err != nil {
		return 0, errs.WrapBackend("mlog.erase", uint64(h.desc.ID), errs.OriginMlog, err)
	}
	h.cursor = 0
	return gen, nil
}

// ID returns the mlog's object ID.
func (h *Handle) ID() interfaces.ObjectID {
	return h.desc.ID
}
