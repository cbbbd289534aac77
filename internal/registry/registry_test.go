package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
)

func TestInsertAndFind(t *testing.T) {
	r := New()

	d, err := r.Insert(1, interfaces.KindMblock, 0)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ObjectID(1), d.ID)
	assert.Equal(t, StateAllocated, d.State)

	found, err := r.Find(1, interfaces.KindMblock)
	require.NoError(t, err)
	assert.Same(t, d, found)
}

func TestInsertDuplicateFails(t *testing.T) {
	r := New()
	_, err := r.Insert(1, interfaces.KindMlog, 0)
	require.NoError(t, err)

	_, err = r.Insert(1, interfaces.KindMlog, 0)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeAlreadyExists))
}

func TestFindNotFound(t *testing.T) {
	r := New()
	_, err := r.Find(99, interfaces.KindMblock)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestFindWrongKind(t *testing.T) {
	r := New()
	_, err := r.Insert(1, interfaces.KindMblock, 0)
	require.NoError(t, err)

	_, err = r.Find(1, interfaces.KindMlog)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidArgument))
}

func TestFindGetPutBalance(t *testing.T) {
	r := New()
	_, err := r.Insert(1, interfaces.KindMblock, 0)
	require.NoError(t, err)

	d, err := r.FindGet(1, interfaces.KindMblock)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Refcount())

	require.NoError(t, r.Put(d))
	assert.Equal(t, 0, d.Refcount())
}

func TestPutWithoutGetFails(t *testing.T) {
	r := New()
	d, err := r.Insert(1, interfaces.KindMblock, 0)
	require.NoError(t, err)

	err = r.Put(d)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidState))
}

func TestRemoveRequiresDestructibleState(t *testing.T) {
	r := New()
	_, err := r.Insert(1, interfaces.KindMblock, 0)
	require.NoError(t, err)

	// Allocated, not yet committed/aborted/deleted: not destructible.
	err = r.Remove(1)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeBusy))

	require.NoError(t, r.SetState(1, StateDeleted))
	require.NoError(t, r.Remove(1))
	assert.Equal(t, 0, r.Len())
}

func TestRemoveFailsWithOutstandingRef(t *testing.T) {
	r := New()
	_, err := r.Insert(1, interfaces.KindMblock, 0)
	require.NoError(t, err)
	require.NoError(t, r.SetState(1, StateDeleted))

	d, err := r.FindGet(1, interfaces.KindMblock)
	require.NoError(t, err)

	err = r.Remove(1)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeBusy))

	require.NoError(t, r.Put(d))
	require.NoError(t, r.Remove(1))
}

func TestOutstandingRefsAndEach(t *testing.T) {
	r := New()
	_, err := r.Insert(1, interfaces.KindMblock, 0)
	require.NoError(t, err)
	_, err = r.Insert(2, interfaces.KindMlog, 0)
	require.NoError(t, err)

	_, err = r.FindGet(1, interfaces.KindMblock)
	require.NoError(t, err)
	_, err = r.FindGet(2, interfaces.KindMlog)
	require.NoError(t, err)

	assert.Equal(t, 2, r.OutstandingRefs())

	seen := 0
	r.Each(func(d *Descriptor) { seen++ })
	assert.Equal(t, 2, seen)
}
