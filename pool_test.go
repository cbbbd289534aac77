package mpool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpool-go/mpool/backend/mem"
	"github.com/mpool-go/mpool/internal/config"
	"github.com/mpool-go/mpool/internal/interfaces"
)

func testOptions() Options {
	return Options{Fs: afero.NewMemMapFs(), Params: config.New()}
}

func TestOpenWiresEveryManager(t *testing.T) {
	p, err := Open("p0", mem.New(), testOptions())
	require.NoError(t, err)
	defer p.Close()

	assert.NotNil(t, p.Mblocks())
	assert.NotNil(t, p.Mlogs())
	assert.NotNil(t, p.MDCs())
	assert.NotNil(t, p.Mcache())
	assert.Equal(t, "p0", p.Name())
}

func TestOpenRejectsNilBackend(t *testing.T) {
	_, err := Open("p0", nil, testOptions())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInvalidArgument))
}

// An exclusive open blocks any subsequent open of the same pool name,
// shared or exclusive.
func TestExclusiveOpenRejectsSecondOpener(t *testing.T) {
	opts := testOptions()
	opts.Mode = ModeExclusive

	p1, err := Open("excl", mem.New(), opts)
	require.NoError(t, err)
	defer p1.Close()

	_, err = Open("excl", mem.New(), testOptions())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeBusy))
}

func TestSharedOpenAllowsMultipleOpenersButRejectsExclusiveUpgrade(t *testing.T) {
	p1, err := Open("shared", mem.New(), testOptions())
	require.NoError(t, err)
	defer p1.Close()

	p2, err := Open("shared", mem.New(), testOptions())
	require.NoError(t, err)
	defer p2.Close()

	exclOpts := testOptions()
	exclOpts.Mode = ModeExclusive
	_, err = Open("shared", mem.New(), exclOpts)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeBusy))
}

func TestCloseFreesPoolNameForReopen(t *testing.T) {
	opts := testOptions()
	opts.Mode = ModeExclusive

	p1, err := Open("reopen", mem.New(), opts)
	require.NoError(t, err)
	require.NoError(t, p1.Close())

	p2, err := Open("reopen", mem.New(), opts)
	require.NoError(t, err)
	defer p2.Close()
}

func TestOsFsOpenTakesRuntimeLockFile(t *testing.T) {
	params := config.New()
	params.RuntimeDir = t.TempDir()

	opts := Options{Fs: afero.NewOsFs(), Params: params, Mode: ModeExclusive}
	p, err := Open("excl-fs", mem.New(), opts)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(params.RuntimeDir, "excl-fs.lock"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(params.RuntimeDir, "excl-fs.params.yaml"))
	require.NoError(t, err)

	require.NoError(t, p.Close())

	// The params snapshot is a per-open artifact; the lock file persists.
	_, err = os.Stat(filepath.Join(params.RuntimeDir, "excl-fs.params.yaml"))
	require.Error(t, err)
}

func TestScanReportsAllocatedObjects(t *testing.T) {
	p, err := Open("scan", mem.New(), testOptions())
	require.NoError(t, err)
	defer p.Close()

	mbID, _, err := p.Mblocks().Allocate(0, false)
	require.NoError(t, err)
	mlID, _, err := p.Mlogs().Allocate(0, 1<<20)
	require.NoError(t, err)

	entries := p.Scan()
	require.Len(t, entries, 2)

	var sawBlock, sawLog bool
	for _, e := range entries {
		switch e.ID {
		case uint64(mbID):
			sawBlock = true
			assert.Equal(t, "mblock", e.Kind)
		case uint64(mlID):
			sawLog = true
			assert.Equal(t, "mlog", e.Kind)
		}
	}
	assert.True(t, sawBlock)
	assert.True(t, sawLog)

	mblocksOnly := p.List(interfaces.KindMblock)
	require.Len(t, mblocksOnly, 1)
	assert.Equal(t, uint64(mbID), mblocksOnly[0].ID)
}

func TestPoolRunsAgainstMockBackend(t *testing.T) {
	p, err := Open("mock", NewMockBackend(), testOptions())
	require.NoError(t, err)
	defer p.Close()

	id, _, err := p.Mlogs().Allocate(0, 1<<20)
	require.NoError(t, err)
	require.NoError(t, p.Mlogs().Commit(id))

	h, gen, err := p.Mlogs().Open(id, MlogOpenFlags{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	require.NoError(t, h.Append([]byte("via-mock"), true))
	h.ReadInit()
	buf := make([]byte, 32)
	n, _, err := h.ReadNext(buf)
	require.NoError(t, err)
	assert.Equal(t, "via-mock", string(buf[:n]))
	require.NoError(t, h.Close())
}

func TestMockBackendReadBeyondExtentEndFails(t *testing.T) {
	p, err := Open("mock-oob", NewMockBackend(), testOptions())
	require.NoError(t, err)
	defer p.Close()

	id, props, err := p.Mblocks().Allocate(0, false)
	require.NoError(t, err)
	require.NoError(t, p.Mblocks().WriteSync(id, 0, [][]byte{make([]byte, props.WriteAlign)}))
	require.NoError(t, p.Mblocks().Commit(id))

	offset := (props.Capacity/props.PageSize + 1) * props.PageSize
	_, err = p.Mblocks().Read(id, offset, make([]byte, props.PageSize))
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeOutOfRange))
}

// Close must fail with Busy while any find_get handle is outstanding; the
// reference counts have to balance before the pool can go away.
func TestCloseFailsWithOutstandingHandle(t *testing.T) {
	p, err := Open("busy-close", mem.New(), testOptions())
	require.NoError(t, err)

	id, _, err := p.Mblocks().Allocate(0, false)
	require.NoError(t, err)

	d, err := p.Mblocks().FindGet(id)
	require.NoError(t, err)

	err = p.Close()
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeBusy))

	require.NoError(t, p.Mblocks().Put(d))
	require.NoError(t, p.Close())
}

func TestPoolMetricsObserveMblockOps(t *testing.T) {
	p, err := Open("metrics", mem.New(), testOptions())
	require.NoError(t, err)
	defer p.Close()

	id, props, err := p.Mblocks().Allocate(0, false)
	require.NoError(t, err)
	payload := make([]byte, props.WriteAlign)
	require.NoError(t, p.Mblocks().WriteSync(id, 0, [][]byte{payload}))

	snap := p.Metrics().Snapshot()
	assert.Greater(t, snap.MblockOps, uint64(0))
}
