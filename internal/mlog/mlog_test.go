package mlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpool-go/mpool/backend/mem"
	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
	"github.com/mpool-go/mpool/internal/logging"
	"github.com/mpool-go/mpool/internal/registry"
)

func newTestManager() (*Manager, *mem.Backend) {
	b := mem.New()
	r := registry.New()
	return New(b, r, logging.NewLogger(nil), nil), b
}

func TestAllocateCommitOpenAppendRead(t *testing.T) {
	m, _ := newTestManager()

	id, _, err := m.Allocate(0, 1<<20)
	require.NoError(t, err)
	require.NoError(t, m.Commit(id))

	h, gen, err := m.Open(id, OpenFlags{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	require.NoError(t, h.Append([]byte("record-one"), true))
	require.NoError(t, h.Append([]byte("record-two"), true))

	h.ReadInit()
	buf := make([]byte, 64)
	n, rtype, err := h.ReadNext(buf)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RecordUser, rtype)
	assert.Equal(t, "record-one", string(buf[:n]))

	n, _, err = h.ReadNext(buf)
	require.NoError(t, err)
	assert.Equal(t, "record-two", string(buf[:n]))

	require.NoError(t, h.Close())
}

func TestAppendReadOnlyFails(t *testing.T) {
	m, _ := newTestManager()
	id, _, err := m.Allocate(0, 1<<20)
	require.NoError(t, err)
	require.NoError(t, m.Commit(id))

	h, _, err := m.Open(id, OpenFlags{ReadOnly: true})
	require.NoError(t, err)

	err = h.Append([]byte("nope"), true)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidArgument))
	require.NoError(t, h.Close())
}

func TestAsyncAppendRequiresFlush(t *testing.T) {
	m, _ := newTestManager()
	id, _, err := m.Allocate(0, 1<<20)
	require.NoError(t, err)
	require.NoError(t, m.Commit(id))

	h, _, err := m.Open(id, OpenFlags{})
	require.NoError(t, err)

	require.NoError(t, h.Append([]byte("buffered"), false))
	assert.True(t, h.Empty())

	require.NoError(t, h.Flush())
	assert.False(t, h.Empty())
	require.NoError(t, h.Close())
}

func TestEraseBumpsGeneration(t *testing.T) {
	m, _ := newTestManager()
	id, _, err := m.Allocate(0, 1<<20)
	require.NoError(t, err)
	require.NoError(t, m.Commit(id))

	h, _, err := m.Open(id, OpenFlags{})
	require.NoError(t, err)
	require.NoError(t, h.Append([]byte("x"), true))

	gen, err := h.Erase(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), gen)
	assert.True(t, h.Empty())
	require.NoError(t, h.Close())
}

func TestSeekReadNextSkipsWholeRecords(t *testing.T) {
	m, b := newTestManager()
	id, _, err := m.Allocate(0, 1<<20)
	require.NoError(t, err)
	require.NoError(t, m.Commit(id))

	h, _, err := m.Open(id, OpenFlags{})
	require.NoError(t, err)

	require.NoError(t, h.Append([]byte("first"), true))
	firstFramed := b.Len(id) // framed length of the first record
	require.NoError(t, h.Append([]byte("second"), true))

	// Skip the first record's framed length so the cursor lands on the
	// second record's boundary.
	h.ReadInit()
	buf := make([]byte, 64)
	n, _, err := h.SeekReadNext(firstFramed, buf)
	require.NoError(t, err)
	assert.Equal(t, "second", string(buf[:n]))

	require.NoError(t, h.Close())
}

func TestDoubleCloseFails(t *testing.T) {
	m, _ := newTestManager()
	id, _, err := m.Allocate(0, 1<<20)
	require.NoError(t, err)
	require.NoError(t, m.Commit(id))

	h, _, err := m.Open(id, OpenFlags{})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	err = h.Close()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidState))
}

func TestFindGetPutMirrorsRegistry(t *testing.T) {
	m, _ := newTestManager()
	id, _, err := m.Allocate(0, 1<<20)
	require.NoError(t, err)

	d, err := m.FindGet(id)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Refcount())

	resolved, err := m.Resolve(id)
	require.NoError(t, err)
	assert.Same(t, d, resolved)

	require.NoError(t, m.Put(d))
	assert.Equal(t, 0, d.Refcount())
}

func TestDeleteRequiresCommitted(t *testing.T) {
	m, _ := newTestManager()
	id, _, err := m.Allocate(0, 1<<20)
	require.NoError(t, err)

	err = m.Delete(id)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidState))

	require.NoError(t, m.Commit(id))
	require.NoError(t, m.Delete(id))
}
