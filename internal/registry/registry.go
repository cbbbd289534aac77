// Package registry implements the per-pool object-ID registry: the map
// from object ID to descriptor, with reference-counted handle issue and
// return.
package registry

import (
	"sync"

	"github.com/mpool-go/mpool/internal/interfaces"
)

// State is the logical lifecycle state of a registered object. Managers
// (mblock, mlog) drive transitions; the registry only enforces that a
// descriptor is destructible exactly when its refcount is zero and its
// state permits destruction.
type State int

const (
	StateAllocated State = iota
	StateCommitted
	StateAborted
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Descriptor is the registry's record for one live object.
type Descriptor struct {
	ID         interfaces.ObjectID
	Kind       interfaces.ObjectKind
	MediaClass int
	State      State
	Generation uint64

	refcount int
}

// Refcount returns the descriptor's current reference count. Intended for
// tests and diagnostics; callers driving lifecycle logic should go through
// FindGet/Put instead of inspecting this directly.
func (d *Descriptor) Refcount() int {
	return d.refcount
}

// destructible reports whether the descriptor may be freed: refcount zero
// and the logical state permits destruction.
func (d *Descriptor) destructible() bool {
	if d.refcount != 0 {
		return false
	}
	switch d.State {
	case StateDeleted, StateAborted:
		return true
	default:
		return false
	}
}

// Registry is the per-pool object-ID → descriptor map.
type Registry struct {
	mu      sync.RWMutex
	entries map[interfaces.ObjectID]*Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[interfaces.ObjectID]*Descriptor)}
}

// Insert registers a newly allocated object. Fails with CodeAlreadyExists
// if id collides with a live entry.
func (r *Registry) Insert(id interfaces.ObjectID, kind interfaces.ObjectKind, mediaClass int) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return nil, errAlreadyExists(id)
	}

	d := &Descriptor{
		ID:         id,
		Kind:       kind,
		MediaClass: mediaClass,
		State:      StateAllocated,
		Generation: 1,
	}
	r.entries[id] = d
	return d, nil
}

// Find resolves id without taking a reference (find-without-ref). The
// returned *Descriptor must not be retained past the registry's lock scope
// for anything beyond reading immutable fields; callers that need to hold
// a handle across other work must use FindGet.
func (r *Registry) Find(id interfaces.ObjectID, wantKind interfaces.ObjectKind) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(id, wantKind)
}

func (r *Registry) findLocked(id interfaces.ObjectID, wantKind interfaces.ObjectKind) (*Descriptor, error) {
	d, ok := r.entries[id]
	if !ok {
		return nil, errNotFound(id)
	}
	if d.Kind != wantKind {
		return nil, errWrongKind(id, wantKind, d.Kind)
	}
	return d, nil
}

// FindGet resolves id and increments its reference count atomically.
// Every successful FindGet must be matched by exactly one Put.
func (r *Registry) FindGet(id interfaces.ObjectID, wantKind interfaces.ObjectKind) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.findLocked(id, wantKind)
	if err != nil {
		return nil, err
	}
	d.refcount++
	return d, nil
}

// Put releases a reference obtained from FindGet. Callers must not Put a
// descriptor they did not FindGet; doing so would under-flow the refcount
// and is reported as CodeInvalidState rather than silently ignored.
func (r *Registry) Put(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.refcount == 0 {
		return errUnbalancedPut(d.ID)
	}
	d.refcount--
	return nil
}

// SetState transitions a descriptor's logical state. The registry itself
// does not validate state-machine legality of the transition (that's each
// manager's job); it only uses the resulting state to decide destructibility.
func (r *Registry) SetState(id interfaces.ObjectID, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.entries[id]
	if !ok {
		return errNotFound(id)
	}
	d.State = state
	return nil
}

// Remove deletes id from the registry (remove-on-destroy). Fails with
// CodeBusy if the descriptor is not yet destructible (outstanding
// references, or a state that doesn't permit destruction).
func (r *Registry) Remove(id interfaces.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.entries[id]
	if !ok {
		return errNotFound(id)
	}
	if !d.destructible() {
		return errBusy(id)
	}
	delete(r.entries, id)
	return nil
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// OutstandingRefs sums every live descriptor's refcount, used by Pool.Close
// to detect callers that still hold a find_get handle.
func (r *Registry) OutstandingRefs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, d := range r.entries {
		total += d.refcount
	}
	return total
}

// Each iterates every live descriptor for Scan/List style operations. fn
// must not call back into the registry; Each holds the read lock for its
// duration.
func (r *Registry) Each(fn func(*Descriptor)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.entries {
		fn(d)
	}
}
