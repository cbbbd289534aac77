package mpool

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/mpool-go/mpool/internal/config"
	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
	"github.com/mpool-go/mpool/internal/logging"
	"github.com/mpool-go/mpool/internal/mblock"
	"github.com/mpool-go/mpool/internal/mcache"
	"github.com/mpool-go/mpool/internal/mdc"
	"github.com/mpool-go/mpool/internal/mlog"
	"github.com/mpool-go/mpool/internal/registry"
	"github.com/mpool-go/mpool/internal/vm"
)

// MDCOpenFlags re-exports mdc.OpenFlags so callers driving an MDC through a
// Pool don't need to import the internal package directly.
type MDCOpenFlags = mdc.OpenFlags

// MlogOpenFlags re-exports mlog.OpenFlags for the same reason.
type MlogOpenFlags = mlog.OpenFlags

// OpenMode selects the exclusivity a Pool is opened with.
type OpenMode int

const (
	// ModeShared allows any number of concurrent openers, but rejects a
	// later exclusive opener while any shared opener is live.
	ModeShared OpenMode = iota
	// ModeExclusive fails every other Open (shared or exclusive) against
	// the same pool name until this one closes.
	ModeExclusive
)

// Options configures Open. Open's backend argument is required; every field
// here defaults sensibly for tests and the in-memory demo (cmd/mpool-mem).
type Options struct {
	Params   config.Parameters
	Fs       afero.Fs
	Mode     OpenMode
	Logger   *logging.Logger
	Observer interfaces.Observer
}

// Pool is the top-level handle a caller opens once and uses to drive every
// object operation against a single backend. It owns the registry
// exclusively and wires it into the mblock/mlog/MDC/mcache managers in
// dependency order: registry -> {mblock, mlog} -> MDC -> mcache.
type Pool struct {
	name    string
	params  config.Parameters
	fs      afero.Fs
	log     *logging.Logger
	metrics *Metrics

	reg     *registry.Registry
	mblocks *mblock.Manager
	mlogs   *mlog.Manager
	mdcs    *mdc.Manager
	mcache  *mcache.Manager

	mode OpenMode
	lock *os.File // runtime-dir flock, nil when fs is not the OS filesystem

	mu     sync.Mutex
	closed bool
}

// openPools tracks the in-process open mode for each pool name so Open can
// enforce the exclusive/shared rule without requiring a real backing file
// (the reference demo and every test run against backend/mem, which has no
// file descriptor to flock). Pools opened on the OS filesystem additionally
// take an advisory flock on a lock file under Params.RuntimeDir; the
// in-process guard below is the authoritative check within one process.
var (
	openPoolsMu sync.Mutex
	openPools   = map[string]OpenMode{}
)

func acquirePoolName(name string, mode OpenMode) error {
	openPoolsMu.Lock()
	defer openPoolsMu.Unlock()

	if existing, ok := openPools[name]; ok {
		if existing == ModeExclusive || mode == ModeExclusive {
			return errs.New("pool.open", errs.CodeBusy, errs.OriginPool, "pool \""+name+"\" already open")
		}
	}
	openPools[name] = mode
	return nil
}

func releasePoolName(name string) {
	openPoolsMu.Lock()
	defer openPoolsMu.Unlock()
	delete(openPools, name)
}

// Open creates a Pool bound to backend, enforcing the exclusive/shared
// opener rule and wiring every manager in dependency order. name
// identifies the pool for the exclusivity check and for diagnostics; it
// does not need to match anything the backend knows about.
func Open(name string, backend interfaces.Backend, opts Options) (*Pool, error) {
	if backend == nil {
		return nil, errs.New("pool.open", errs.CodeInvalidArgument, errs.OriginPool, "backend is nil")
	}
	if err := acquirePoolName(name, opts.Mode); err != nil {
		return nil, err
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default().WithComponent("pool")
	}
	obs := opts.Observer
	metrics := NewMetrics()
	if obs == nil {
		obs = NewMetricsObserver(metrics)
	}

	params := config.Defaults(opts.Params)
	if err := config.EnsureRuntimeDir(fs, params.RuntimeDir); err != nil {
		releasePoolName(name)
		return nil, err
	}
	if err := config.Save(fs, paramsPath(params.RuntimeDir, name), params); err != nil {
		releasePoolName(name)
		return nil, err
	}

	// On a real (OS) runtime directory the in-process exclusivity map above
	// is backed by an advisory flock on a per-pool lock file, so openers in
	// other processes observe the same shared/exclusive rule.
	var lockFile *os.File
	if _, ok := fs.(*afero.OsFs); ok {
		lf, err := os.OpenFile(lockPath(params.RuntimeDir, name), os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			releasePoolName(name)
			return nil, errs.WrapBackend("pool.open", 0, errs.OriginPool, err)
		}
		if err := vm.Flock(int(lf.Fd()), opts.Mode == ModeExclusive); err != nil {
			lf.Close()
			releasePoolName(name)
			return nil, err
		}
		lockFile = lf
	}

	reg := registry.New()
	mblocks := mblock.New(backend, reg, log.WithComponent("mblock"), obs)
	mlogs := mlog.New(backend, reg, log.WithComponent("mlog"), obs)
	mdcs := mdc.New(mlogs, log.WithComponent("mdc"), obs)
	mcaches := mcache.New(mblocks, log.WithComponent("mcache"), obs)

	p := &Pool{
		name:    name,
		params:  params,
		fs:      fs,
		log:     log,
		metrics: metrics,
		reg:     reg,
		mblocks: mblocks,
		mlogs:   mlogs,
		mdcs:    mdcs,
		mcache:  mcaches,
		mode:    opts.Mode,
		lock:    lockFile,
	}
	log.Info("pool opened", "name", name, "mode", opts.Mode)
	return p, nil
}

// Close releases the pool's exclusivity slot. It fails with Busy if any
// registry entry still has outstanding references: every find_get issued
// against this pool's objects must be matched by a put before the pool
// itself can close.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if n := p.reg.OutstandingRefs(); n > 0 {
		return errs.New("pool.close", errs.CodeBusy, errs.OriginPool, "outstanding object references")
	}
	p.closed = true
	p.metrics.Stop()
	_ = p.fs.Remove(paramsPath(p.params.RuntimeDir, p.name))
	if p.lock != nil {
		_ = vm.Funlock(int(p.lock.Fd()))
		p.lock.Close()
	}
	releasePoolName(p.name)
	p.log.Info("pool closed", "name", p.name)
	return nil
}

// paramsPath is where a pool drops its resolved-parameters snapshot under
// the runtime directory.
func paramsPath(runtimeDir, name string) string {
	return filepath.Join(runtimeDir, name+".params.yaml")
}

// lockPath is the per-pool advisory lock file under the runtime directory.
func lockPath(runtimeDir, name string) string {
	return filepath.Join(runtimeDir, name+".lock")
}

// Name returns the pool's name as given to Open.
func (p *Pool) Name() string { return p.name }

// Params returns the fully-resolved Parameters the pool was opened with.
func (p *Pool) Params() config.Parameters { return p.params }

// Metrics returns the pool's operational metrics.
func (p *Pool) Metrics() *Metrics { return p.metrics }

// Mblocks returns the mblock manager bound to this pool.
func (p *Pool) Mblocks() *mblock.Manager { return p.mblocks }

// Mlogs returns the mlog manager bound to this pool.
func (p *Pool) Mlogs() *mlog.Manager { return p.mlogs }

// MDCs returns the MDC engine bound to this pool.
func (p *Pool) MDCs() *mdc.Manager { return p.mdcs }

// Mcache returns the mcache map manager bound to this pool.
func (p *Pool) Mcache() *mcache.Manager { return p.mcache }

// ObjectSummary is one registry entry as reported by Scan/List: a
// read-only view over what this pool's registry currently holds, with no
// create/destroy/rename semantics attached.
type ObjectSummary struct {
	ID         uint64
	Kind       string
	State      string
	MediaClass int
	Generation uint64
	Refcount   int
}

// Scan enumerates every live object in the pool's registry regardless of
// kind. List is the same enumeration filtered to one kind, kept under the
// administrative name callers coming from pool tooling expect.
func (p *Pool) Scan() []ObjectSummary {
	var out []ObjectSummary
	p.reg.Each(func(d *registry.Descriptor) {
		out = append(out, ObjectSummary{
			ID:         uint64(d.ID),
			Kind:       d.Kind.String(),
			State:      d.State.String(),
			MediaClass: d.MediaClass,
			Generation: d.Generation,
			Refcount:   d.Refcount(),
		})
	})
	return out
}

// List is Scan filtered to a single object kind.
func (p *Pool) List(kind interfaces.ObjectKind) []ObjectSummary {
	all := p.Scan()
	out := all[:0:0]
	for _, s := range all {
		if s.Kind == kind.String() {
			out = append(out, s)
		}
	}
	return out
}
