// Package mblock implements the mblock manager: allocation, commit,
// abort, delete, synchronous and asynchronous writes, and page-aligned
// reads for bulk append-once data extents.
package mblock

import (
	"time"

	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
	"github.com/mpool-go/mpool/internal/registry"
)

// Manager drives mblock lifecycle against a backend and registry.
type Manager struct {
	backend interfaces.ExtentBackend
	reg     *registry.Registry
	log     interfaces.Logger
	obs     interfaces.Observer
}

// New creates an mblock manager bound to backend and reg.
func New(backend interfaces.ExtentBackend, reg *registry.Registry, log interfaces.Logger, obs interfaces.Observer) *Manager {
	return &Manager{backend: backend, reg: reg, log: log, obs: obs}
}

func (m *Manager) observe(bytes uint64, start time.Time, success bool) {
	if m.obs == nil {
		return
	}
	m.obs.ObserveMblockOp("mblock", bytes, time.Since(start), success)
}

// Allocate reserves a backend extent at the given media class, registering
// it in the allocated state.
func (m *Manager) Allocate(mediaClass int, spare bool) (interfaces.ObjectID, interfaces.ExtentProps, error) {
	id, props, err := m.backend.AllocateExtent(mediaClass, spare)
	if err != nil {
		return 0, interfaces.ExtentProps{}, errs.WrapBackend("mblock.allocate", 0, errs.OriginMblock, err)
	}
	if _, err := m.reg.Insert(id, interfaces.KindMblock, mediaClass); err != nil {
		return 0, interfaces.ExtentProps{}, err
	}
	m.log.Debug("mblock allocated", "id", uint64(id), "class", mediaClass, "spare", spare)
	return id, props, nil
}

// WriteSync issues all bytes of iov synchronously at offset, all-or-nothing.
func (m *Manager) WriteSync(id interfaces.ObjectID, offset int64, iov [][]byte) error {
	d, err := m.reg.Find(id, interfaces.KindMblock)
	if err != nil {
		return err
	}
	if d.State != registry.StateAllocated {
		return errs.NewObject("mblock.write-sync", uint64(id), errs.CodeInvalidState, errs.OriginMblock, "mblock not allocated")
	}

	var n uint64
	for _, v := range iov {
		n += uint64(len(v))
	}
	start := time.Now()
	writeErr := m.backend.WriteExtent(id, offset, iov)
	m.observe(n, start, writeErr == nil)
	if writeErr != nil {
		return errs.WrapBackend("mblock.write-sync", uint64(id), errs.OriginMblock, writeErr)
	}
	return nil
}

// Read reads into buf starting at the page-aligned offset. Requires the
// mblock be committed.
func (m *Manager) Read(id interfaces.ObjectID, offset int64, buf []byte) (int, error) {
	d, err := m.reg.Find(id, interfaces.KindMblock)
	if err != nil {
		return 0, err
	}
	if d.State != registry.StateCommitted {
		return 0, errs.NewObject("mblock.read", uint64(id), errs.CodeInvalidState, errs.OriginMblock, "mblock not committed")
	}

	start := time.Now()
	n, err := m.backend.ReadExtent(id, offset, buf)
	m.observe(uint64(n), start, err == nil)
	if err != nil {
		return n, errs.WrapBackend("mblock.read", uint64(id), errs.OriginMblock, err)
	}
	return n, nil
}

// Commit transitions allocated → committed; writes are sealed.
func (m *Manager) Commit(id interfaces.ObjectID) error {
	d, err := m.reg.Find(id, interfaces.KindMblock)
	if err != nil {
		return err
	}
	if d.State != registry.StateAllocated {
		return errs.NewObject("mblock.commit", uint64(id), errs.CodeInvalidState, errs.OriginMblock, "mblock not in allocated state")
	}
	if err := m.backend.CommitExtent(id); err != nil {
		return errs.WrapBackend("mblock.commit", uint64(id), errs.OriginMblock, err)
	}
	return m.reg.SetState(id, registry.StateCommitted)
}

// Abort transitions allocated → aborted; the backend extent is returned.
func (m *Manager) Abort(id interfaces.ObjectID) error {
	d, err := m.reg.Find(id, interfaces.KindMblock)
	if err != nil {
		return err
	}
	if d.State != registry.StateAllocated {
		return errs.NewObject("mblock.abort", uint64(id), errs.CodeInvalidState, errs.OriginMblock, "mblock not in allocated state")
	}
	if err := m.backend.AbortExtent(id); err != nil {
		return errs.WrapBackend("mblock.abort", uint64(id), errs.OriginMblock, err)
	}
	if err := m.reg.SetState(id, registry.StateAborted); err != nil {
		return err
	}
	return m.reg.Remove(id)
}

// Delete transitions committed → deleted; the backend extent is returned.
// Fails with CodeBusy if the extent is still pinned by an mcache map. The
// registry entry is removed only when no other reference is outstanding at
// this point; otherwise it stays in the registry in the deleted state, as
// Put only drops the count and never removes an entry.
func (m *Manager) Delete(id interfaces.ObjectID) error {
	d, err := m.reg.FindGet(id, interfaces.KindMblock)
	if err != nil {
		return err
	}

	if d.State != registry.StateCommitted {
		m.reg.Put(d)
		return errs.NewObject("mblock.delete", uint64(id), errs.CodeInvalidState, errs.OriginMblock, "mblock not committed")
	}
	if err := m.backend.DeleteExtent(id); err != nil {
		m.reg.Put(d)
		return errs.WrapBackend("mblock.delete", uint64(id), errs.OriginMblock, err)
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

// GetProperties reports the current properties of the extent.
func (m *Manager) GetProperties(id interfaces.ObjectID) (interfaces.ExtentProps, error) {
	if _, err := m.reg.Find(id, interfaces.KindMblock); err != nil {
		return interfaces.ExtentProps{}, err
	}
	props, err := m.backend.Properties(id)
	if err != nil {
		return interfaces.ExtentProps{}, errs.WrapBackend("mblock.get-properties", uint64(id), errs.OriginMblock, err)
	}
	return props, nil
}

// Resolve looks up id's descriptor without taking a reference.
func (m *Manager) Resolve(id interfaces.ObjectID) (*registry.Descriptor, error) {
	return m.reg.Find(id, interfaces.KindMblock)
}

// FindGet resolves id and takes a reference on its descriptor. Every
// successful FindGet must be balanced by one Put.
func (m *Manager) FindGet(id interfaces.ObjectID) (*registry.Descriptor, error) {
	return m.reg.FindGet(id, interfaces.KindMblock)
}

// Put releases a reference obtained from FindGet.
func (m *Manager) Put(d *registry.Descriptor) error {
	return m.reg.Put(d)
}

// Pin marks the extent as mapped by an mcache map.
func (m *Manager) Pin(id interfaces.ObjectID) error {
	if err := m.backend.Pin(id); err != nil {
		return errs.WrapBackend("mblock.pin", uint64(id), errs.OriginMblock, err)
	}
	return nil
}

// Unpin releases a previous Pin.
func (m *Manager) Unpin(id interfaces.ObjectID) error {
	if err := m.backend.Unpin(id); err != nil {
		return errs.WrapBackend("mblock.unpin", uint64(id), errs.OriginMblock, err)
	}
	return nil
}
