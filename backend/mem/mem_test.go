package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
)

func TestExtentLifecycle(t *testing.T) {
	b := New()

	id, props, err := b.AllocateExtent(0, false)
	require.NoError(t, err)
	assert.False(t, props.Committed)

	align := props.WriteAlign
	payload := make([]byte, align)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, b.WriteExtent(id, 0, [][]byte{payload}))

	p2, err := b.Properties(id)
	require.NoError(t, err)
	assert.Equal(t, align, p2.Written)

	require.NoError(t, b.CommitExtent(id))

	buf := make([]byte, align)
	n, err := b.ReadExtent(id, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, int(align), n)
	assert.Equal(t, payload, buf)

	err = b.WriteExtent(id, align, [][]byte{payload})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidState))
}

func TestExtentReadBeyondEndFails(t *testing.T) {
	b := New()
	id, props, err := b.AllocateExtent(0, false)
	require.NoError(t, err)
	require.NoError(t, b.CommitExtent(id))

	_, err = b.ReadExtent(id, props.Capacity, make([]byte, props.PageSize))
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeOutOfRange))
}

func TestExtentDeleteRequiresUnpinned(t *testing.T) {
	b := New()
	id, _, err := b.AllocateExtent(0, false)
	require.NoError(t, err)
	require.NoError(t, b.CommitExtent(id))

	require.NoError(t, b.Pin(id))
	err = b.DeleteExtent(id)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeBusy))

	require.NoError(t, b.Unpin(id))
	require.NoError(t, b.DeleteExtent(id))
}

func TestExtentWriteMisaligned(t *testing.T) {
	b := New()
	id, _, err := b.AllocateExtent(0, false)
	require.NoError(t, err)

	err = b.WriteExtent(id, 0, [][]byte{{1, 2, 3}})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidArgument))
}

func TestLogAppendReadRoundTrip(t *testing.T) {
	b := New()
	id, _, err := b.AllocateLog(0, 4<<20)
	require.NoError(t, err)
	require.NoError(t, b.CommitLog(id))

	require.NoError(t, b.AppendRecord(id, interfaces.RecordUser, [][]byte{[]byte("hello")}, true))
	require.NoError(t, b.AppendRecord(id, interfaces.RecordUser, [][]byte{[]byte("world!")}, true))

	buf := make([]byte, 64)
	n, rtype, next, err := b.ReadAt(id, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RecordUser, rtype)
	assert.Equal(t, "hello", string(buf[:n]))

	n, rtype, _, err = b.ReadAt(id, next, buf)
	require.NoError(t, err)
	assert.Equal(t, "world!", string(buf[:n]))
}

func TestLogAsyncAppendNotVisibleUntilFlush(t *testing.T) {
	b := New()
	id, _, err := b.AllocateLog(0, 4<<20)
	require.NoError(t, err)
	require.NoError(t, b.CommitLog(id))

	require.NoError(t, b.AppendRecord(id, interfaces.RecordUser, [][]byte{[]byte("async")}, false))
	assert.Equal(t, int64(0), b.Len(id))

	require.NoError(t, b.Flush(id))
	assert.True(t, b.Len(id) > 0)

	buf := make([]byte, 16)
	n, _, _, err := b.ReadAt(id, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "async", string(buf[:n]))
}

func TestLogReadAtBufferTooSmall(t *testing.T) {
	b := New()
	id, _, err := b.AllocateLog(0, 4<<20)
	require.NoError(t, err)
	require.NoError(t, b.CommitLog(id))
	require.NoError(t, b.AppendRecord(id, interfaces.RecordUser, [][]byte{[]byte("0123456789")}, true))

	buf := make([]byte, 2)
	n, _, _, err := b.ReadAt(id, 0, buf)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeOverflow))
	assert.Equal(t, 10, n)
}

func TestLogErase(t *testing.T) {
	b := New()
	id, _, err := b.AllocateLog(0, 4<<20)
	require.NoError(t, err)
	require.NoError(t, b.CommitLog(id))
	require.NoError(t, b.AppendRecord(id, interfaces.RecordUser, [][]byte{[]byte("x")}, true))

	gen, err := b.Erase(id, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)
	assert.Equal(t, int64(0), b.Len(id))

	gen, err = b.Erase(id, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), gen)
}

func TestNotFoundErrors(t *testing.T) {
	b := New()
	_, err := b.Properties(interfaces.ObjectID(999))
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))

	_, _, _, err = b.ReadAt(interfaces.ObjectID(999), 0, make([]byte, 4))
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))
}
