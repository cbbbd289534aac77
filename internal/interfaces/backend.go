// Package interfaces provides internal interface definitions for mpool.
// These are separate from the public API to avoid circular imports between
// the root package and the manager packages that implement it.
package interfaces

import "time"

// ObjectID is the 64-bit opaque identifier the backend assigns to every
// allocated object (mblock or mlog). It carries kind and media-class bits as
// the backend sees fit; mpool never interprets its structure, only its
// value.
type ObjectID uint64

// ObjectKind distinguishes the two object kinds a backend allocates.
// MDCs are not a backend-level kind — they are two mlogs managed together by
// the MDC engine.
type ObjectKind int

const (
	KindMblock ObjectKind = iota
	KindMlog
)

func (k ObjectKind) String() string {
	switch k {
	case KindMblock:
		return "mblock"
	case KindMlog:
		return "mlog"
	default:
		return "unknown"
	}
}

// ExtentProps reports the properties of a committed or in-progress mblock
// extent.
type ExtentProps struct {
	ID         ObjectID
	MediaClass int
	Capacity   int64
	WriteAlign int64
	PageSize   int64
	Written    int64
	Committed  bool
}

// ExtentBackend is the contract the mblock manager consumes from the
// backend. The reference implementation is backend/mem; a real deployment
// would back this with a block device driver, which this library does not
// provide.
type ExtentBackend interface {
	// AllocateExtent reserves a new extent and returns its ID and initial
	// properties. The extent starts in the "allocated" state.
	AllocateExtent(class int, spare bool) (ObjectID, ExtentProps, error)

	// CommitExtent seals the extent; no further writes are accepted.
	CommitExtent(id ObjectID) error

	// AbortExtent releases an allocated (not yet committed) extent.
	AbortExtent(id ObjectID) error

	// DeleteExtent releases a committed extent. Fails if the extent is
	// pinned by an active mcache map.
	DeleteExtent(id ObjectID) error

	// WriteExtent writes iov at offset, all-or-nothing: on any failure the
	// extent's write offset must be left exactly as it was before the call.
	WriteExtent(id ObjectID, offset int64, iov [][]byte) error

	// ReadExtent reads into buf starting at offset, which must be
	// page-aligned. Returns the number of bytes read.
	ReadExtent(id ObjectID, offset int64, buf []byte) (int, error)

	// Properties reports the current properties of the extent.
	Properties(id ObjectID) (ExtentProps, error)

	// Pin marks the extent as mapped by an mcache map, making DeleteExtent
	// fail with Busy until a matching Unpin.
	Pin(id ObjectID) error

	// Unpin releases a previous Pin.
	Unpin(id ObjectID) error

	// BaseAddress returns the backend's notion of a stable virtual base for
	// the extent's committed bytes. ok is false if the backend cannot offer a
	// stable address (e.g. it is not memory-backed). mcache does not call
	// it; it always copies committed bytes into a region of its own.
	BaseAddress(id ObjectID) (addr uintptr, ok bool)
}

// RecordType distinguishes user records from the reserved compaction-marker
// records an MDC writes into its mlogs. The concrete framing that carries
// this tag is a backend concern; mpool only ever compares the returned
// RecordType, never the payload.
type RecordType int

const (
	RecordUser RecordType = iota
	RecordCompactStart
	RecordCompactEnd
)

// LogProps reports the properties of an mlog.
type LogProps struct {
	ID         ObjectID
	MediaClass int
	Capacity   int64
	Generation uint64
	Committed  bool
}

// LogBackend is the contract the mlog manager (and, through it, the MDC
// engine) consumes from the backend.
type LogBackend interface {
	AllocateLog(class int, capacityTarget int64) (ObjectID, LogProps, error)
	CommitLog(id ObjectID) error
	AbortLog(id ObjectID) error
	DeleteLog(id ObjectID) error

	// AppendRecord appends one framed record gathered from iov. If sync, the
	// call returns only once durable; the Generation and Len observed after
	// a successful async append must become visible to a subsequent
	// synchronous call (Flush, Close, or a sync Append).
	AppendRecord(id ObjectID, rtype RecordType, iov [][]byte, sync bool) error

	// ReadAt returns the record starting at byte cursor, its type, and the
	// cursor of the record that follows it. ErrOverflow (via the returned
	// error) indicates buf was too small; the required length is reported
	// and the cursor is not considered consumed.
	ReadAt(id ObjectID, cursor int64, buf []byte) (n int, rtype RecordType, next int64, err error)

	// Flush durably persists all buffered (non-sync) appends.
	Flush(id ObjectID) error

	// Len returns the current logical length in bytes (sum of framed
	// records since the last erase).
	Len(id ObjectID) int64

	// Generation returns the mlog's current generation counter.
	Generation(id ObjectID) uint64

	// Erase discards all records and bumps the generation to at least
	// minGen, returning the new generation.
	Erase(id ObjectID, minGen uint64) (uint64, error)
}

// Backend is the union an mpool Pool binds to at Open time. A single backend
// instance serves both extents and logs for a pool, mirroring how one
// physical device driver backs every object kind in a real deployment.
type Backend interface {
	ExtentBackend
	LogBackend
}

// Logger is the narrow logging interface managers accept; satisfied by
// *internal/logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer collects operational metrics. Implementations must be
// thread-safe: methods are called from whatever goroutine performs the I/O.
// Chunk writes issued by an async-write context's workers are not reported.
type Observer interface {
	ObserveMblockOp(op string, bytes uint64, latency time.Duration, success bool)
	ObserveMlogOp(op string, bytes uint64, latency time.Duration, success bool)
	ObserveMDCOp(op string, bytes uint64, latency time.Duration, success bool)
	ObserveMcacheOp(op string, latency time.Duration, success bool)
}
