package blockctl

import (
	"context"
	"sync/atomic"
	"time"
)

// Pool manages a set of control connections to one controller. The
// protocol allows many concurrent control connections, each strictly
// serial; pooling is what lets bulk work such as introspection run many
// exchanges in flight at once.
type Pool interface {
	// Acquire returns a connection resource, creating one if the pool
	// is below its maximum size.
	Acquire(ctx context.Context) (Resource, error)

	// AcquireAllIdle returns every currently idle resource, for health
	// checking.
	AcquireAllIdle() []Resource

	// Stats returns pool statistics.
	Stats() PoolStats

	// Close destroys all pooled connections.
	Close()
}

// Resource is one pooled connection lease.
type Resource interface {
	// Value returns the underlying connection.
	Value() *ControlConnection

	// Release returns the connection to the pool for reuse.
	Release()

	// ReleaseUnused returns the connection without updating its idle
	// timestamp. Health checks use this so probing does not keep a
	// stale connection looking fresh.
	ReleaseUnused()

	// Destroy closes the connection and removes it from the pool.
	Destroy()

	// CreationTime returns when the connection was established.
	CreationTime() time.Time

	// IdleDuration returns how long the connection has been idle.
	IdleDuration() time.Duration
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Acquires      int64
	AcquiredIdle  int64 // acquires satisfied by an idle connection
	AcquireErrors int64
	Created       int64
	Destroyed     int64
}

// poolStatsCollector accumulates PoolStats with atomic counters.
type poolStatsCollector struct {
	acquires      atomic.Int64
	acquiredIdle  atomic.Int64
	acquireErrors atomic.Int64
	created       atomic.Int64
	destroyed     atomic.Int64
}

func (s *poolStatsCollector) recordAcquire()      { s.acquires.Add(1) }
func (s *poolStatsCollector) recordAcquiredIdle() { s.acquiredIdle.Add(1) }
func (s *poolStatsCollector) recordAcquireError() { s.acquireErrors.Add(1) }
func (s *poolStatsCollector) recordCreated()      { s.created.Add(1) }
func (s *poolStatsCollector) recordDestroyed()    { s.destroyed.Add(1) }

func (s *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		Acquires:      s.acquires.Load(),
		AcquiredIdle:  s.acquiredIdle.Load(),
		AcquireErrors: s.acquireErrors.Load(),
		Created:       s.created.Load(),
		Destroyed:     s.destroyed.Load(),
	}
}
