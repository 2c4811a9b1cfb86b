package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// pool runs a bounded number of tasks concurrently, mirroring the
// errgroup+per-thread-context pattern the pack's own game-solver example
// uses for parallel search helper threads, adapted here to drive BFS
// chunk workers instead of search helper threads. The retrograde phase
// does not use it.
type pool struct {
	sem *semaphore.Weighted
	g   *errgroup.Group
	ctx context.Context
}

func newPool(ctx context.Context, workers int) *pool {
	g, gctx := errgroup.WithContext(ctx)
	return &pool{
		sem: semaphore.NewWeighted(int64(workers)),
		g:   g,
		ctx: gctx,
	}
}

// Go schedules fn to run once a worker slot is free. If the pool's context
// is already cancelled (e.g. a sibling task failed), Go records that error
// in the group, where Wait reports it, instead of scheduling fn.
func (p *pool) Go(fn func(ctx context.Context) error) {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.g.Go(func() error { return err })
		return
	}
	p.g.Go(func() error {
		defer p.sem.Release(1)
		return fn(p.ctx)
	})
}

// Wait blocks until every scheduled task has returned, and returns the
// first non-nil error, if any.
func (p *pool) Wait() error {
	return p.g.Wait()
}
