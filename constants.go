package mpool

import "github.com/mpool-go/mpool/internal/constants"

// Re-export constants for public API
const (
	MediaClassCapacity    = constants.MediaClassCapacity
	MediaClassStaging     = constants.MediaClassStaging
	DefaultMlogCapacity   = constants.DefaultMlogCapacity
	DefaultMDCCapacity    = constants.DefaultMDCCapacity
	DefaultPageSize       = constants.DefaultPageSize
	DefaultWriteAlignment = constants.DefaultWriteAlignment
	MaxAsyncChunkSize     = constants.MaxAsyncChunkSize
	MaxAsyncInFlight      = constants.MaxAsyncInFlight
	AutoAssignObjectID    = constants.AutoAssignObjectID
	LockPollInterval      = constants.LockPollInterval
	LockPollTimeout       = constants.LockPollTimeout
)
