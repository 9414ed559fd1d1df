package blockctl

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
)

// NewPuddlePool creates a puddle-backed connection pool. Compared to the
// channel pool it queues acquirers fairly and destroys connections
// asynchronously; prefer it when many goroutines hammer introspection at
// once.
func NewPuddlePool(constructor func(ctx context.Context) (*ControlConnection, error), maxSize int32) (Pool, error) {
	p := &puddlePool{}

	pool, err := puddle.NewPool(&puddle.Config[*pooledConn]{
		Constructor: func(ctx context.Context) (*pooledConn, error) {
			conn, err := constructor(ctx)
			if err != nil {
				return nil, err
			}
			p.stats.recordCreated()
			return &pooledConn{conn: conn}, nil
		},
		Destructor: func(pc *pooledConn) {
			p.stats.recordDestroyed()
			_ = pc.conn.Close()
		},
		MaxSize: maxSize,
	})
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// pooledConn tags a connection with whether it has been handed out
// before, distinguishing idle reuse from fresh construction in the stats.
type pooledConn struct {
	conn *ControlConnection
	used atomic.Bool
}

type puddlePool struct {
	pool  *puddle.Pool[*pooledConn]
	stats poolStatsCollector
}

func (p *puddlePool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		p.stats.recordAcquireError()
		return nil, err
	}
	if res.Value().used.Swap(true) {
		p.stats.recordAcquiredIdle()
	}
	return &puddleResource{res}, nil
}

func (p *puddlePool) AcquireAllIdle() []Resource {
	puddleResources := p.pool.AcquireAllIdle()
	resources := make([]Resource, len(puddleResources))
	for i, res := range puddleResources {
		resources[i] = &puddleResource{res}
	}
	return resources
}

func (p *puddlePool) Stats() PoolStats {
	return p.stats.snapshot()
}

func (p *puddlePool) Close() {
	p.pool.Close()
}

// puddleResource adapts a puddle lease to the Resource interface.
type puddleResource struct {
	res *puddle.Resource[*pooledConn]
}

func (r *puddleResource) Value() *ControlConnection { return r.res.Value().conn }

func (r *puddleResource) Release() { r.res.Release() }

func (r *puddleResource) ReleaseUnused() { r.res.ReleaseUnused() }

func (r *puddleResource) Destroy() { r.res.Destroy() }

func (r *puddleResource) CreationTime() time.Time { return r.res.CreationTime() }

func (r *puddleResource) IdleDuration() time.Duration { return r.res.IdleDuration() }
