// Package constants holds default tunables shared across mpool's managers.
package constants

import "time"

// Media classes recognized by the registry and backends. The backend is free
// to map these to whatever physical tiers it actually has; mpool only uses
// the class as an opaque selector passed through to Allocate calls.
const (
	MediaClassCapacity = iota
	MediaClassStaging
)

// Default allocation and I/O tunables.
const (
	// DefaultMlogCapacity is the default capacity target for a standalone
	// mlog, in bytes.
	DefaultMlogCapacity = 4 << 20 // 4MiB

	// DefaultMDCCapacity is the default capacity target for each of the two
	// mlogs backing an MDC.
	DefaultMDCCapacity = 8 << 20 // 8MiB

	// DefaultPageSize is the page size reported by backends that don't have a
	// more specific answer (the in-memory reference backend uses this).
	DefaultPageSize = 4096

	// DefaultWriteAlignment is the optimal write alignment reported by
	// backends that don't have a more specific answer.
	DefaultWriteAlignment = 4096

	// MaxAsyncChunkSize is the largest chunk write-async queues in a single
	// submission.
	MaxAsyncChunkSize = 1 << 20 // 1MiB

	// MaxAsyncInFlight bounds how many chunk writes an async-write context
	// runs against the backend at once, across all mblocks sharing it. Sized
	// as the width of the golang.org/x/sync/semaphore weighted semaphore
	// guarding the context; Write-async itself blocks the caller only when
	// an mblock's chunk queue is full.
	MaxAsyncInFlight = 32
)

// AutoAssignObjectID indicates the backend should choose the object ID.
const AutoAssignObjectID = 0

// Lock poll constants. Nothing in this module polls with them: mpool never
// blocks trying to acquire an exclusive lock (BUSY is returned immediately).
const (
	LockPollInterval = 5 * time.Millisecond
	LockPollTimeout  = 2 * time.Second
)
