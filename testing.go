package mpool

import (
	"sync"

	"github.com/mpool-go/mpool/internal/interfaces"
)

// MockBackend is an in-process implementation of interfaces.Backend for
// tests that don't need the full reference backend/mem package: every
// extent lives as a plain byte slice and every log as a slice of records,
// behind a single mutex, and allocate, write, read and append calls are
// counted for assertions.
type MockBackend struct {
	mu      sync.Mutex
	nextID  uint64
	extents map[interfaces.ObjectID]*mockExtent
	logs    map[interfaces.ObjectID]*mockLog

	allocateCalls int
	writeCalls    int
	readCalls     int
	appendCalls   int
}

type mockExtent struct {
	data      []byte
	props     interfaces.ExtentProps
	committed bool
	pins      int
}

type mockLog struct {
	records    []mockRecord
	generation uint64
	committed  bool
}

type mockRecord struct {
	rtype RecordType
	data  []byte
}

// RecordType re-exports interfaces.RecordType so test callers don't need to
// import the internal package directly.
type RecordType = interfaces.RecordType

const (
	RecordUser         = interfaces.RecordUser
	RecordCompactStart = interfaces.RecordCompactStart
	RecordCompactEnd   = interfaces.RecordCompactEnd
)

// NewMockBackend creates an empty mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		extents: make(map[interfaces.ObjectID]*mockExtent),
		logs:    make(map[interfaces.ObjectID]*mockLog),
	}
}

func (m *MockBackend) allocID() interfaces.ObjectID {
	m.nextID++
	return interfaces.ObjectID(m.nextID)
}

// AllocateExtent implements interfaces.ExtentBackend.
func (m *MockBackend) AllocateExtent(class int, spare bool) (interfaces.ObjectID, interfaces.ExtentProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocateCalls++

	id := m.allocID()
	props := interfaces.ExtentProps{
		ID:         id,
		MediaClass: class,
		Capacity:   DefaultMlogCapacity,
		WriteAlign: DefaultWriteAlignment,
		PageSize:   DefaultPageSize,
	}
	m.extents[id] = &mockExtent{data: make([]byte, 0, props.Capacity), props: props}
	return id, props, nil
}

// CommitExtent implements interfaces.ExtentBackend.
func (m *MockBackend) CommitExtent(id interfaces.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.extents[id]
	if !ok {
		return NewObjectError("mock.commit-extent", uint64(id), CodeNotFound, OriginMblock, "no such extent")
	}
	if ext.committed {
		return NewObjectError("mock.commit-extent", uint64(id), CodeInvalidState, OriginMblock, "already committed")
	}
	ext.committed = true
	ext.props.Committed = true
	return nil
}

// AbortExtent implements interfaces.ExtentBackend.
func (m *MockBackend) AbortExtent(id interfaces.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.extents[id]
	if !ok {
		return NewObjectError("mock.abort-extent", uint64(id), CodeNotFound, OriginMblock, "no such extent")
	}
	if ext.committed {
		return NewObjectError("mock.abort-extent", uint64(id), CodeInvalidState, OriginMblock, "already committed")
	}
	delete(m.extents, id)
	return nil
}

// DeleteExtent implements interfaces.ExtentBackend.
func (m *MockBackend) DeleteExtent(id interfaces.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.extents[id]
	if !ok {
		return NewObjectError("mock.delete-extent", uint64(id), CodeNotFound, OriginMblock, "no such extent")
	}
	if ext.pins > 0 {
		return NewObjectError("mock.delete-extent", uint64(id), CodeBusy, OriginMblock, "extent is pinned")
	}
	delete(m.extents, id)
	return nil
}

// WriteExtent implements interfaces.ExtentBackend.
func (m *MockBackend) WriteExtent(id interfaces.ObjectID, offset int64, iov [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++

	ext, ok := m.extents[id]
	if !ok {
		return NewObjectError("mock.write-extent", uint64(id), CodeNotFound, OriginMblock, "no such extent")
	}
	if ext.committed {
		return NewObjectError("mock.write-extent", uint64(id), CodeInvalidState, OriginMblock, "extent already committed")
	}

	var total int64
	for _, buf := range iov {
		total += int64(len(buf))
	}
	if offset+total > ext.props.Capacity {
		return NewObjectError("mock.write-extent", uint64(id), CodeNoSpace, OriginMblock, "write exceeds capacity")
	}

	if need := offset + total; int64(len(ext.data)) < need {
		grown := make([]byte, need)
		copy(grown, ext.data)
		ext.data = grown
	}
	pos := offset
	for _, buf := range iov {
		copy(ext.data[pos:], buf)
		pos += int64(len(buf))
	}
	if ext.props.Written < pos {
		ext.props.Written = pos
	}
	return nil
}

// ReadExtent implements interfaces.ExtentBackend.
func (m *MockBackend) ReadExtent(id interfaces.ObjectID, offset int64, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++

	ext, ok := m.extents[id]
	if !ok {
		return 0, NewObjectError("mock.read-extent", uint64(id), CodeNotFound, OriginMblock, "no such extent")
	}
	if offset >= ext.props.Capacity {
		return 0, NewObjectError("mock.read-extent", uint64(id), CodeOutOfRange, OriginMblock, "read offset beyond extent end")
	}
	if offset >= int64(len(ext.data)) {
		return 0, nil
	}
	n := copy(buf, ext.data[offset:])
	return n, nil
}

// Properties implements interfaces.ExtentBackend.
func (m *MockBackend) Properties(id interfaces.ObjectID) (interfaces.ExtentProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.extents[id]
	if !ok {
		return interfaces.ExtentProps{}, NewObjectError("mock.properties", uint64(id), CodeNotFound, OriginMblock, "no such extent")
	}
	return ext.props, nil
}

// Pin implements interfaces.ExtentBackend.
func (m *MockBackend) Pin(id interfaces.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.extents[id]
	if !ok {
		return NewObjectError("mock.pin", uint64(id), CodeNotFound, OriginMblock, "no such extent")
	}
	ext.pins++
	return nil
}

// Unpin implements interfaces.ExtentBackend.
func (m *MockBackend) Unpin(id interfaces.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.extents[id]
	if !ok {
		return NewObjectError("mock.unpin", uint64(id), CodeNotFound, OriginMblock, "no such extent")
	}
	if ext.pins > 0 {
		ext.pins--
	}
	return nil
}

// BaseAddress implements interfaces.ExtentBackend. The mock is not
// memory-backed in a way mcache can use directly, so it always reports ok=false.
func (m *MockBackend) BaseAddress(id interfaces.ObjectID) (uintptr, bool) {
	return 0, false
}

// AllocateLog implements interfaces.LogBackend.
func (m *MockBackend) AllocateLog(class int, capacityTarget int64) (interfaces.ObjectID, interfaces.LogProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocateCalls++

	id := m.allocID()
	props := interfaces.LogProps{ID: id, MediaClass: class, Capacity: capacityTarget, Generation: 1}
	m.logs[id] = &mockLog{generation: 1}
	return id, props, nil
}

// CommitLog implements interfaces.LogBackend.
func (m *MockBackend) CommitLog(id interfaces.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lg, ok := m.logs[id]
	if !ok {
		return NewObjectError("mock.commit-log", uint64(id), CodeNotFound, OriginMlog, "no such log")
	}
	lg.committed = true
	return nil
}

// AbortLog implements interfaces.LogBackend.
func (m *MockBackend) AbortLog(id interfaces.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[id]; !ok {
		return NewObjectError("mock.abort-log", uint64(id), CodeNotFound, OriginMlog, "no such log")
	}
	delete(m.logs, id)
	return nil
}

// DeleteLog implements interfaces.LogBackend.
func (m *MockBackend) DeleteLog(id interfaces.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[id]; !ok {
		return NewObjectError("mock.delete-log", uint64(id), CodeNotFound, OriginMlog, "no such log")
	}
	delete(m.logs, id)
	return nil
}

// AppendRecord implements interfaces.LogBackend.
func (m *MockBackend) AppendRecord(id interfaces.ObjectID, rtype interfaces.RecordType, iov [][]byte, sync bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++

	lg, ok := m.logs[id]
	if !ok {
		return NewObjectError("mock.append-record", uint64(id), CodeNotFound, OriginMlog, "no such log")
	}
	if !lg.committed {
		return NewObjectError("mock.append-record", uint64(id), CodeInvalidState, OriginMlog, "log not yet committed")
	}

	var buf []byte
	for _, b := range iov {
		buf = append(buf, b...)
	}
	lg.records = append(lg.records, mockRecord{rtype: rtype, data: buf})
	return nil
}

// ReadAt implements interfaces.LogBackend. cursor is interpreted as a
// record index, not a byte offset; the mock favors simplicity over
// reproducing the byte-cursor framing real backends use.
func (m *MockBackend) ReadAt(id interfaces.ObjectID, cursor int64, buf []byte) (int, interfaces.RecordType, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lg, ok := m.logs[id]
	if !ok {
		return 0, 0, 0, NewObjectError("mock.read-at", uint64(id), CodeNotFound, OriginMlog, "no such log")
	}
	if cursor < 0 || int(cursor) >= len(lg.records) {
		return 0, 0, 0, NewObjectError("mock.read-at", uint64(id), CodeOutOfRange, OriginMlog, "cursor past end of log")
	}
	rec := lg.records[cursor]
	if len(buf) < len(rec.data) {
		return len(rec.data), 0, 0, NewObjectError("mock.read-at", uint64(id), CodeOverflow, OriginMlog, "buffer too small")
	}
	n := copy(buf, rec.data)
	return n, rec.rtype, cursor + 1, nil
}

// Flush implements interfaces.LogBackend. The mock has no buffered writes,
// so Flush is a no-op once the log is known.
func (m *MockBackend) Flush(id interfaces.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[id]; !ok {
		return NewObjectError("mock.flush", uint64(id), CodeNotFound, OriginMlog, "no such log")
	}
	return nil
}

// Len implements interfaces.LogBackend, reporting record count rather than
// byte length since the mock doesn't frame records on disk.
func (m *MockBackend) Len(id interfaces.ObjectID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	lg, ok := m.logs[id]
	if !ok {
		return 0
	}
	return int64(len(lg.records))
}

// Generation implements interfaces.LogBackend.
func (m *MockBackend) Generation(id interfaces.ObjectID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	lg, ok := m.logs[id]
	if !ok {
		return 0
	}
	return lg.generation
}

// Erase implements interfaces.LogBackend.
func (m *MockBackend) Erase(id interfaces.ObjectID, minGen uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lg, ok := m.logs[id]
	if !ok {
		return 0, NewObjectError("mock.erase", uint64(id), CodeNotFound, OriginMlog, "no such log")
	}
	lg.records = nil
	if minGen > lg.generation {
		lg.generation = minGen
	} else {
		lg.generation++
	}
	return lg.generation, nil
}

// CallCounts reports how many times each backend operation family has been
// invoked, for assertions in manager-level tests.
func (m *MockBackend) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"allocate": m.allocateCalls,
		"write":    m.writeCalls,
		"read":     m.readCalls,
		"append":   m.appendCalls,
	}
}

var _ interfaces.Backend = (*MockBackend)(nil)
