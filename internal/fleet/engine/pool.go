package engine

import (
	"context"
	"sync/atomic"

	rtsup "shelfbot/internal/runtime/supervisor"
)

// maxPoolSize caps the permit buffer of a pool.
const maxPoolSize = 1024

// pool runs jobs on supervised goroutines, at most limit at a time.
//
// Submit never blocks: each job gets its own goroutine that waits for a
// permit, so callers may submit while holding the engine lock. The limit can
// follow the fleet size as robots and stations are registered.
type pool struct {
	name string
	sup  *rtsup.Supervisor

	permits chan struct{}
	limit   int32
	fixed   bool

	inFlight int32
	waiting  int32
	done     uint64
}

// PoolStats is a point-in-time view of a worker pool.
type PoolStats struct {
	Limit    int    `json:"limit"`
	InFlight int    `json:"in_flight"`
	Waiting  int    `json:"waiting"`
	Done     uint64 `json:"done"`
}

// newPool creates a pool. size <= 0 means the limit is driven by resize.
func newPool(name string, size int, sup *rtsup.Supervisor) *pool {
	p := &pool{
		name:    name,
		sup:     sup,
		permits: make(chan struct{}, maxPoolSize),
		fixed:   size > 0,
	}
	if size <= 0 {
		size = 1
	}
	p.setLimit(size)
	return p
}

// resize adjusts the limit of a fleet-driven pool; fixed pools ignore it.
func (p *pool) resize(n int) {
	if p == nil || p.fixed {
		return
	}
	p.setLimit(n)
}

// submit runs fn once a permit is available. If the pool's context is
// cancelled first, fn still runs with started=false so it can hand back the
// job it owns without doing the work.
func (p *pool) submit(name string, fn func(ctx context.Context, started bool)) {
	p.sup.Go0(p.name+"."+name, func(ctx context.Context) {
		atomic.AddInt32(&p.waiting, 1)
		ok := p.acquire(ctx)
		atomic.AddInt32(&p.waiting, -1)
		if !ok {
			fn(ctx, false)
			return
		}
		atomic.AddInt32(&p.inFlight, 1)
		defer func() {
			atomic.AddInt32(&p.inFlight, -1)
			atomic.AddUint64(&p.done, 1)
			p.release()
		}()
		fn(ctx, true)
	})
}

func (p *pool) stats() PoolStats {
	if p == nil {
		return PoolStats{}
	}
	return PoolStats{
		Limit:    int(atomic.LoadInt32(&p.limit)),
		InFlight: int(atomic.LoadInt32(&p.inFlight)),
		Waiting:  int(atomic.LoadInt32(&p.waiting)),
		Done:     atomic.LoadUint64(&p.done),
	}
}

func (p *pool) acquire(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.permits:
		return true
	}
}

func (p *pool) release() {
	lim := atomic.LoadInt32(&p.limit)
	in := atomic.LoadInt32(&p.inFlight)
	avail := int32(len(p.permits))
	// Only return a token if it would not exceed the limit.
	if avail+in >= lim {
		return
	}
	select {
	case p.permits <- struct{}{}:
	default:
	}
}

func (p *pool) setLimit(n int) {
	if n < 1 {
		n = 1
	}
	if n > maxPoolSize {
		n = maxPoolSize
	}
	atomic.StoreInt32(&p.limit, int32(n))
	p.rebalance()
}

func (p *pool) rebalance() {
	lim := atomic.LoadInt32(&p.limit)
	in := atomic.LoadInt32(&p.inFlight)
	avail := int32(len(p.permits))

	// Drain extra tokens if the limit decreased.
	for avail+in > lim {
		select {
		case <-p.permits:
			avail--
		default:
			return
		}
	}
	for avail+in < lim {
		select {
		case p.permits <- struct{}{}:
			avail++
		default:
			return
		}
	}
}
