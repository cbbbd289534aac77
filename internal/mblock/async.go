package mblock

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mpool-go/mpool/internal/constants"
	"github.com/mpool-go/mpool/internal/errs"
	"github.com/mpool-go/mpool/internal/interfaces"
)

type chunk struct {
	offset int64
	data   []byte
}

// objQueue serializes chunks for one mblock: submissions within a single
// mblock must be offset-monotonic and the context must preserve issue
// order, so each object gets its own FIFO channel drained by a single
// worker goroutine; different objects drain concurrently.
type objQueue struct {
	ch chan chunk
}

// AsyncContext is the lazily-populated write-async context: a FIFO per
// mblock, draining across a bounded worker pool shared by every mblock
// that writes through it. Multiple mblocks may share one AsyncContext;
// AsyncFlush drains all of them and reports the first failure, after which
// the context is unusable.
type AsyncContext struct {
	mgr *Manager
	sem *semaphore.Weighted
	eg  *errgroup.Group

	mu      sync.Mutex
	queues  map[interfaces.ObjectID]*objQueue
	failed  bool
	flushed bool
}

// NewAsyncContext creates an empty async-write context bound to mgr.
func (m *Manager) NewAsyncContext() *AsyncContext {
	eg := &errgroup.Group{}
	return &AsyncContext{
		mgr:    m,
		sem:    semaphore.NewWeighted(constants.MaxAsyncInFlight),
		eg:     eg,
		queues: make(map[interfaces.ObjectID]*objQueue),
	}
}

func (c *AsyncContext) queueFor(id interfaces.ObjectID) *objQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[id]
	if ok {
		return q
	}
	q = &objQueue{ch: make(chan chunk, 64)}
	c.queues[id] = q
	c.eg.Go(func() error { return c.drain(id, q) })
	return q
}

func (c *AsyncContext) drain(id interfaces.ObjectID, q *objQueue) error {
	ctx := context.Background()
	for ch := range q.ch {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		err := c.mgr.backend.WriteExtent(id, ch.offset, [][]byte{ch.data})
		c.sem.Release(1)
		if err != nil {
			c.mu.Lock()
			c.failed = true
			c.mu.Unlock()
			return errs.WrapBackend("mblock.write-async", uint64(id), errs.OriginMblock, err)
		}
	}
	return nil
}

// WriteAsync queues iov, chunked into pieces no larger than
// MaxAsyncChunkSize, into ctx under id's FIFO. Submissions across calls to
// the same id must already be offset-monotonic; WriteAsync does not
// reorder them.
func (m *Manager) WriteAsync(id interfaces.ObjectID, offset int64, iov [][]byte, ctx *AsyncContext) error {
	ctx.mu.Lock()
	if ctx.failed || ctx.flushed {
		ctx.mu.Unlock()
		return errs.NewObject("mblock.write-async", uint64(id), errs.CodeInvalidState, errs.OriginMblock, "async context is failed or flushed")
	}
	ctx.mu.Unlock()

	q := ctx.queueFor(id)
	pos := offset
	for _, buf := range iov {
		for len(buf) > 0 {
			n := len(buf)
			if n > constants.MaxAsyncChunkSize {
				n = constants.MaxAsyncChunkSize
			}
			piece := make([]byte, n)
			copy(piece, buf[:n])
			q.ch <- chunk{offset: pos, data: piece}
			pos += int64(n)
			buf = buf[n:]
		}
	}
	return nil
}

// AsyncFlush drains ctx: waits for every queued chunk to durably persist
// and reports the first failure, if any. After AsyncFlush returns, ctx is
// no longer usable for WriteAsync.
func (ctx *AsyncContext) AsyncFlush() error {
	ctx.mu.Lock()
	if ctx.flushed {
		ctx.mu.Unlock()
		return errs.New("mblock.async-flush", errs.CodeInvalidState, errs.OriginMblock, "context already flushed")
	}
	ctx.flushed = true
	for _, q := range ctx.queues {
		close(q.ch)
	}
	ctx.mu.Unlock()

	return ctx.eg.Wait()
}
