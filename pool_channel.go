package blockctl

import (
	"context"
	"sync"
	"time"
)

// NewChannelPool creates the default channel-based connection pool.
func NewChannelPool(constructor func(ctx context.Context) (*ControlConnection, error), maxSize int32) (Pool, error) {
	return &channelPool{
		constructor: constructor,
		maxSize:     maxSize,
		resources:   make(chan *channelResource, maxSize),
	}, nil
}

// channelResource implements Resource for the channel pool.
type channelResource struct {
	conn         *ControlConnection
	pool         *channelPool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *channelResource) Value() *ControlConnection {
	return r.conn
}

func (r *channelResource) Release() {
	r.lastUsedTime = time.Now()
	r.pool.put(r)
}

func (r *channelResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	r.conn.Close()
	r.pool.removeResource()
}

func (r *channelResource) CreationTime() time.Time {
	return r.creationTime
}

func (r *channelResource) IdleDuration() time.Duration {
	return time.Since(r.lastUsedTime)
}

// channelPool is a simple pool built on a buffered channel of idle
// resources.
type channelPool struct {
	constructor func(ctx context.Context) (*ControlConnection, error)
	maxSize     int32

	mu        sync.Mutex
	resources chan *channelResource
	size      int32
	closed    bool

	stats poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	// Idle connection available?
	select {
	case res := <-p.resources:
		p.stats.recordAcquiredIdle()
		return res, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, ErrPoolClosed
	}

	if p.size < p.maxSize {
		p.size++
		p.mu.Unlock()

		conn, err := p.constructor(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			p.stats.recordAcquireError()
			return nil, err
		}
		p.stats.recordCreated()
		now := time.Now()
		return &channelResource{conn: conn, pool: p, creationTime: now, lastUsedTime: now}, nil
	}
	p.mu.Unlock()

	// At capacity: wait for a release
	select {
	case res := <-p.resources:
		p.stats.recordAcquiredIdle()
		return res, nil
	case <-ctx.Done():
		p.stats.recordAcquireError()
		return nil, ctx.Err()
	}
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource
	for {
		select {
		case res := <-p.resources:
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

func (p *channelPool) put(r *channelResource) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || r.conn.IsClosed() {
		r.Destroy()
		return
	}

	select {
	case p.resources <- r:
	default:
		// Pool full, should not happen with balanced acquire/release
		r.Destroy()
	}
}

func (p *channelPool) removeResource() {
	p.mu.Lock()
	p.size--
	p.mu.Unlock()
	p.stats.recordDestroyed()
}

func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}

func (p *channelPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case res := <-p.resources:
			res.Destroy()
		default:
			return
		}
	}
}
