package mcache

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpool-go/mpool/backend/mem"
	"github.com/mpool-go/mpool/internal/interfaces"
	"github.com/mpool-go/mpool/internal/logging"
	"github.com/mpool-go/mpool/internal/mblock"
	"github.com/mpool-go/mpool/internal/registry"
)

func newTestManager() (*Manager, *mblock.Manager) {
	b := mem.New()
	r := registry.New()
	blockMgr := mblock.New(b, r, logging.NewLogger(nil), nil)
	return New(blockMgr, logging.NewLogger(nil), nil), blockMgr
}

func committedMblock(t *testing.T, blocks *mblock.Manager, data []byte) interfaces.ObjectID {
	t.Helper()
	id, props, err := blocks.Allocate(0, false)
	require.NoError(t, err)
	buf := make([]byte, props.WriteAlign)
	copy(buf, data)
	require.NoError(t, blocks.WriteSync(id, 0, [][]byte{buf}))
	require.NoError(t, blocks.Commit(id))
	return id
}

func TestMmapSingleMblockGetbase(t *testing.T) {
	m, blocks := newTestManager()
	id := committedMblock(t, blocks, []byte("hello"))

	h, err := m.Mmap([]interfaces.ObjectID{id}, AdviceNormal)
	require.NoError(t, err)
	defer h.Munmap()

	addr, ok := h.Getbase(0)
	assert.True(t, ok)
	assert.NotZero(t, addr)
}

func TestMmapCopiesCommittedBytes(t *testing.T) {
	m, blocks := newTestManager()
	id := committedMblock(t, blocks, []byte("payload"))

	h, err := m.Mmap([]interfaces.ObjectID{id}, AdviceNormal)
	require.NoError(t, err)
	defer h.Munmap()

	pages, err := h.Getpages(0, []int64{0})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, []byte("payload"), unsafe.Slice((*byte)(pages[0]), len("payload")))
}

func TestMmapRejectsUncommitted(t *testing.T) {
	m, blocks := newTestManager()
	id, _, err := blocks.Allocate(0, false)
	require.NoError(t, err)

	_, err = m.Mmap([]interfaces.ObjectID{id}, AdviceNormal)
	require.Error(t, err)
}

func TestMmapPinsAndMunmapUnpins(t *testing.T) {
	m, blocks := newTestManager()
	id := committedMblock(t, blocks, []byte("x"))

	h, err := m.Mmap([]interfaces.ObjectID{id}, AdviceNormal)
	require.NoError(t, err)

	err = blocks.Delete(id)
	require.Error(t, err)

	require.NoError(t, h.Munmap())
	require.NoError(t, blocks.Delete(id))
}

func TestGetpagesvAcrossMultipleMblocks(t *testing.T) {
	m, blocks := newTestManager()
	id1 := committedMblock(t, blocks, []byte("a"))
	id2 := committedMblock(t, blocks, []byte("b"))

	h, err := m.Mmap([]interfaces.ObjectID{id1, id2}, AdviceNormal)
	require.NoError(t, err)
	defer h.Munmap()

	pages, err := h.Getpagesv([]int{0, 1}, []int64{0, 0})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.NotEqual(t, pages[0], pages[1])
}

func TestPurgeAndMincore(t *testing.T) {
	m, blocks := newTestManager()
	id := committedMblock(t, blocks, []byte("x"))

	h, err := m.Mmap([]interfaces.ObjectID{id}, AdviceNormal)
	require.NoError(t, err)
	defer h.Munmap()

	require.NoError(t, h.Purge())
	_, vss, err := h.Mincore()
	require.NoError(t, err)
	assert.Greater(t, vss, 0)
}

func TestMadviseWholeMap(t *testing.T) {
	m, blocks := newTestManager()
	id := committedMblock(t, blocks, []byte("x"))

	h, err := m.Mmap([]interfaces.ObjectID{id}, AdviceNormal)
	require.NoError(t, err)
	defer h.Munmap()

	require.NoError(t, h.Madvise(0, 0, -1, AdviceWillNeed))
}

func TestGetpagesUnknownIndex(t *testing.T) {
	m, blocks := newTestManager()
	id := committedMblock(t, blocks, []byte("x"))

	h, err := m.Mmap([]interfaces.ObjectID{id}, AdviceNormal)
	require.NoError(t, err)
	defer h.Munmap()

	_, err = h.Getpages(1, []int64{0})
	require.Error(t, err)
}
