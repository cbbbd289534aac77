// Package mem provides an in-memory reference implementation of
// interfaces.Backend, the contract mpool's managers consume from a real
// block-device driver. It exists so the core library is independently
// testable without a kernel target.
package mem

import (
	"encoding/binary"
	"sync"

	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
)

// recordHeaderSize is the framing overhead per record: a 4-byte length
// prefix and a 1-byte record-type tag. The tag is what distinguishes
// compaction markers from user records; payload content is never inspected.
const recordHeaderSize = 5

// Backend is the in-memory reference implementation of interfaces.Backend.
// Each extent and log is an independent object behind its own mutex; there
// is deliberately no single device-wide lock, since objects are the natural
// unit of concurrency here.
type Backend struct {
	mu     sync.Mutex // guards id allocation and the two maps themselves
	nextID uint64

	extents map[interfaces.ObjectID]*extent
	logs    map[interfaces.ObjectID]*log
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		extents: make(map[interfaces.ObjectID]*extent),
		logs:    make(map[interfaces.ObjectID]*log),
	}
}

func (b *Backend) allocID() interfaces.ObjectID {
	b.nextID++
	return interfaces.ObjectID(b.nextID)
}

type extent struct {
	mu        sync.RWMutex
	props     interfaces.ExtentProps
	data      []byte // staged bytes up to props.Written; nil beyond that
	committed bool
	pins      int
}

// AllocateExtent implements interfaces.ExtentBackend.
func (b *Backend) AllocateExtent(class int, spare bool) (interfaces.ObjectID, interfaces.ExtentProps, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.allocID()
	props := interfaces.ExtentProps{
		ID:         id,
		MediaClass: class,
		Capacity:   defaultCapacityFor(class),
		WriteAlign: 4096,
		PageSize:   4096,
	}
	b.extents[id] = &extent{props: props}
	return id, props, nil
}

func defaultCapacityFor(class int) int64 {
	// The reference backend has no real media tiers; both classes get the
	// same capacity. A real driver would size staging smaller than capacity.
	return 4 << 20
}

func (b *Backend) getExtent(id interfaces.ObjectID) (*extent, error) {
	b.mu.Lock()
	e, ok := b.extents[id]
	b.mu.Unlock()
	if !ok {
		return nil, errs.NewObject("mem.extent", uint64(id), errs.CodeNotFound, errs.OriginMblock, "no such extent")
	}
	return e, nil
}

// CommitExtent implements interfaces.ExtentBackend.
func (b *Backend) CommitExtent(id interfaces.ObjectID) error {
	e, err := b.getExtent(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.committed {
		return errs.NewObject("mem.commit-extent", uint64(id), errs.CodeInvalidState, errs.OriginMblock, "already committed")
	}
	e.committed = true
	e.props.Committed = true
	return nil
}

// AbortExtent implements interfaces.ExtentBackend.
func (b *Backend) AbortExtent(id interfaces.ObjectID) error {
	e, err := b.getExtent(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.committed {
		e.mu.Unlock()
		return errs.NewObject("mem.abort-extent", uint64(id), errs.CodeInvalidState, errs.OriginMblock, "already committed")
	}
	e.mu.Unlock()

	b.mu.Lock()
	delete(b.extents, id)
	b.mu.Unlock()
	return nil
}

// DeleteExtent implements interfaces.ExtentBackend.
func (b *Backend) DeleteExtent(id interfaces.ObjectID) error {
	e, err := b.getExtent(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.pins > 0 {
		e.mu.Unlock()
		return errs.NewObject("mem.delete-extent", uint64(id), errs.CodeBusy, errs.OriginMblock, "extent is pinned by an mcache map")
	}
	e.mu.Unlock()

	b.mu.Lock()
	delete(b.extents, id)
	b.mu.Unlock()
	return nil
}

// WriteExtent implements interfaces.ExtentBackend. All-or-nothing: on
// failure the extent's Written offset is left exactly as it was.
func (b *Backend) WriteExtent(id interfaces.ObjectID, offset int64, iov [][]byte) error {
	e, err := b.getExtent(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.committed {
		return errs.NewObject("mem.write-extent", uint64(id), errs.CodeInvalidState, errs.OriginMblock, "extent already committed")
	}
	if offset != e.props.Written {
		return errs.NewObject("mem.write-extent", uint64(id), errs.CodeInvalidArgument, errs.OriginMblock, "write offset is not the current write offset")
	}

	var total int64
	for _, v := range iov {
		total += int64(len(v))
	}
	if offset%e.props.WriteAlign != 0 || total%e.props.WriteAlign != 0 {
		return errs.NewObject("mem.write-extent", uint64(id), errs.CodeInvalidArgument, errs.OriginMblock, "write is not alignment-sized")
	}
	if offset+total > e.props.Capacity {
		return errs.NewObject("mem.write-extent", uint64(id), errs.CodeNoSpace, errs.OriginMblock, "write exceeds extent capacity")
	}

	need := offset + total
	if int64(len(e.data)) < need {
		grown := make([]byte, need)
		copy(grown, e.data)
		e.data = grown
	}
	pos := offset
	for _, v := range iov {
		copy(e.data[pos:], v)
		pos += int64(len(v))
	}
	e.props.Written = pos
	return nil
}

// ReadExtent implements interfaces.ExtentBackend.
func (b *Backend) ReadExtent(id interfaces.ObjectID, offset int64, buf []byte) (int, error) {
	e, err := b.getExtent(id)
	if err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if offset%e.props.PageSize != 0 {
		return 0, errs.NewObject("mem.read-extent", uint64(id), errs.CodeInvalidArgument, errs.OriginMblock, "read offset must be page-aligned")
	}
	if offset >= e.props.Capacity {
		return 0, errs.NewObject("mem.read-extent", uint64(id), errs.CodeOutOfRange, errs.OriginMblock, "read offset beyond extent end")
	}
	if offset >= int64(len(e.data)) {
		return 0, nil
	}
	n := copy(buf, e.data[offset:])
	return n, nil
}

// Properties implements interfaces.ExtentBackend.
func (b *Backend) Properties(id interfaces.ObjectID) (interfaces.ExtentProps, error) {
	e, err := b.getExtent(id)
	if err != nil {
		return interfaces.ExtentProps{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.props, nil
}

// Pin implements interfaces.ExtentBackend.
func (b *Backend) Pin(id interfaces.ObjectID) error {
	e, err := b.getExtent(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pins++
	return nil
}

// Unpin implements interfaces.ExtentBackend.
func (b *Backend) Unpin(id interfaces.ObjectID) error {
	e, err := b.getExtent(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pins > 0 {
		e.pins--
	}
	return nil
}

// BaseAddress implements interfaces.ExtentBackend. Go slices are not
// guaranteed a stable address across a GC move of the backing array, so the
// reference backend reports ok=false. mcache does not call this: it always
// copies committed bytes into a region of its own.
func (b *Backend) BaseAddress(id interfaces.ObjectID) (uintptr, bool) {
	return 0, false
}

// log is the reference mlog: a durable, framed record stream plus a
// pending queue of async (non-sync) appends not yet flushed.
type log struct {
	mu        sync.Mutex
	props     interfaces.LogProps
	records   []byte // framed durable records
	pending   []pendingRecord
	committed bool
}

type pendingRecord struct {
	rtype interfaces.RecordType
	data  []byte
}

// AllocateLog implements interfaces.LogBackend.
func (b *Backend) AllocateLog(class int, capacityTarget int64) (interfaces.ObjectID, interfaces.LogProps, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.allocID()
	props := interfaces.LogProps{ID: id, MediaClass: class, Capacity: capacityTarget, Generation: 1}
	b.logs[id] = &log{props: props}
	return id, props, nil
}

func (b *Backend) getLog(id interfaces.ObjectID) (*log, error) {
	b.mu.Lock()
	l, ok := b.logs[id]
	b.mu.Unlock()
	if !ok {
		return nil, errs.NewObject("mem.log", uint64(id), errs.CodeNotFound, errs.OriginMlog, "no such log")
	}
	return l, nil
}

// CommitLog implements interfaces.LogBackend.
func (b *Backend) CommitLog(id interfaces.ObjectID) error {
	l, err := b.getLog(id)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = true
	l.props.Committed = true
	return nil
}

// AbortLog implements interfaces.LogBackend.
func (b *Backend) AbortLog(id interfaces.ObjectID) error {
	if _, err := b.getLog(id); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.logs, id)
	b.mu.Unlock()
	return nil
}

// DeleteLog implements interfaces.LogBackend.
func (b *Backend) DeleteLog(id interfaces.ObjectID) error {
	if _, err := b.getLog(id); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.logs, id)
	b.mu.Unlock()
	return nil
}

// AppendRecord implements interfaces.LogBackend. A sync append frames and
// durably stores its bytes immediately, after any still-queued async
// records; an async append is queued and only becomes visible to
// Len/Generation/ReadAt after a Flush or a later sync append.
func (b *Backend) AppendRecord(id interfaces.ObjectID, rtype interfaces.RecordType, iov [][]byte, sync bool) error {
	l, err := b.getLog(id)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.committed {
		return errs.NewObject("mem.append-record", uint64(id), errs.CodeInvalidState, errs.OriginMlog, "log not yet committed")
	}

	var data []byte
	for _, v := range iov {
		data = append(data, v...)
	}

	if sync {
		for _, p := range l.pending {
			l.records = appendFramed(l.records, p.rtype, p.data)
		}
		l.pending = l.pending[:0]
		l.records = appendFramed(l.records, rtype, data)
		return nil
	}
	l.pending = append(l.pending, pendingRecord{rtype: rtype, data: data})
	return nil
}

func appendFramed(buf []byte, rtype interfaces.RecordType, data []byte) []byte {
	hdr := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(data)))
	hdr[4] = byte(rtype)
	buf = append(buf, hdr...)
	buf = append(buf, data...)
	return buf
}

// ReadAt implements interfaces.LogBackend. cursor is a byte offset into the
// durable, flushed record stream.
func (b *Backend) ReadAt(id interfaces.ObjectID, cursor int64, buf []byte) (int, interfaces.RecordType, int64, error) {
	l, err := b.getLog(id)
	if err != nil {
		return 0, 0, 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if cursor < 0 || cursor >= int64(len(l.records)) {
		return 0, 0, 0, errs.NewObject("mem.read-at", uint64(id), errs.CodeOutOfRange, errs.OriginMlog, "cursor past end of log")
	}
	if cursor+recordHeaderSize > int64(len(l.records)) {
		return 0, 0, 0, errs.NewObject("mem.read-at", uint64(id), errs.CodeCorrupt, errs.OriginMlog, "truncated record header")
	}
	hdr := l.records[cursor : cursor+recordHeaderSize]
	length := int64(binary.LittleEndian.Uint32(hdr[0:4]))
	rtype := interfaces.RecordType(hdr[4])

	start := cursor + recordHeaderSize
	end := start + length
	if end > int64(len(l.records)) {
		return 0, 0, 0, errs.NewObject("mem.read-at", uint64(id), errs.CodeCorrupt, errs.OriginMlog, "truncated record body")
	}
	if int64(len(buf)) < length {
		return int(length), 0, 0, errs.NewObject("mem.read-at", uint64(id), errs.CodeOverflow, errs.OriginMlog, "buffer too small")
	}
	n := copy(buf, l.records[start:end])
	return n, rtype, end, nil
}

// Flush implements interfaces.LogBackend: durably frames every pending
// async append, in submission order, establishing the happens-before a
// caller's subsequent synchronous call is entitled to.
func (b *Backend) Flush(id interfaces.ObjectID) error {
	l, err := b.getLog(id)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.pending {
		l.records = appendFramed(l.records, p.rtype, p.data)
	}
	l.pending = l.pending[:0]
	return nil
}

// Len implements interfaces.LogBackend.
func (b *Backend) Len(id interfaces.ObjectID) int64 {
	l, err := b.getLog(id)
	if err != nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.records))
}

// Generation implements interfaces.LogBackend.
func (b *Backend) Generation(id interfaces.ObjectID) uint64 {
	l, err := b.getLog(id)
	if err != nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.props.Generation
}

// Erase implements interfaces.LogBackend.
func (b *Backend) Erase(id interfaces.ObjectID, minGen uint64) (uint64, error) {
	l, err := b.getLog(id)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = nil
	l.pending = nil
	if minGen > l.props.Generation {
		l.props.Generation = minGen
	} else {
		l.props.Generation++
	}
	return l.props.Generation, nil
}

var _ interfaces.Backend = (*Backend)(nil)
