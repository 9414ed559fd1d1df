package blockctl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aperture-controls/blockctl/ctrl"
)

// Client is one session against one controller. It owns a pool of
// control connections and layers the typed command set over them; the
// independent data stream is opened with Data.
//
// Each pooled connection is still strictly one-request-at-a-time, but
// concurrent callers simply land on different pooled connections, which
// is what makes bulk introspection fast.
type Client struct {
	*Commands

	cfg     Config
	pool    Pool
	breaker CircuitBreaker // nil if not configured
	stats   *clientStatsCollector

	stopHealthCheck chan struct{}
	closeOnce       sync.Once
}

var _ Exchanger = (*Client)(nil)

// NewClient creates a client for the given configuration. No connection
// is made until the first exchange.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("blockctl: config host is required")
	}
	if cfg.MaxConns <= 0 {
		return nil, fmt.Errorf("blockctl: config MaxConns must be > 0")
	}

	poolFactory := cfg.Pool
	if poolFactory == nil {
		poolFactory = NewChannelPool
	}

	constructor := func(ctx context.Context) (*ControlConnection, error) {
		return DialControl(ctx, cfg)
	}
	pool, err := poolFactory(constructor, cfg.MaxConns)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:             cfg,
		pool:            pool,
		stats:           newClientStatsCollector(),
		stopHealthCheck: make(chan struct{}),
	}
	c.Commands = NewCommands(c)

	if cfg.NewCircuitBreaker != nil {
		c.breaker = cfg.NewCircuitBreaker(cfg.Host)
	}
	if cfg.HealthCheckInterval > 0 {
		go c.healthCheckLoop()
	}
	return c, nil
}

// Close destroys all pooled connections. In-flight exchanges fail with a
// closed-connection error. Closing twice is harmless.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cfg.HealthCheckInterval > 0 {
			close(c.stopHealthCheck)
		}
		c.pool.Close()
	})
}

// Exchange implements Exchanger over the pool, routing through the
// circuit breaker when one is configured.
func (c *Client) Exchange(ctx context.Context, req *ctrl.Request) (*ctrl.Response, error) {
	if c.breaker != nil {
		resp, err := c.breaker.Execute(func() (*ctrl.Response, error) {
			return c.exchangePooled(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	return c.exchangePooled(ctx, req)
}

// exchangePooled runs one exchange on a pooled connection, destroying the
// connection when the error taxonomy says its state is no longer
// trustworthy.
func (c *Client) exchangePooled(ctx context.Context, req *ctrl.Request) (*ctrl.Response, error) {
	resource, err := c.pool.Acquire(ctx)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}

	resp, err := resource.Value().Exchange(ctx, req)
	if err != nil {
		c.stats.recordError()
		if ShouldCloseConnection(err) {
			resource.Destroy()
		} else {
			resource.Release()
		}
		return nil, err
	}

	resource.Release()
	c.stats.recordExchange()
	if resp.IsErr() {
		c.stats.recordControllerError()
	}
	return resp, nil
}

// Data opens the capture data stream. It is independent of the control
// pool: closing the client does not close open data connections.
func (c *Client) Data(ctx context.Context, opts DataOptions) (*DataConnection, error) {
	d, err := DialData(ctx, c.cfg, opts)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}
	c.stats.recordDataSession()
	return d, nil
}

// Introspect builds the block/field catalog via the pooled connections.
func (c *Client) Introspect(ctx context.Context) (*Catalog, error) {
	return Introspect(ctx, c)
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns a snapshot of the connection pool's statistics.
func (c *Client) PoolStats() PoolStats {
	return c.pool.Stats()
}

// BreakerState returns the circuit breaker state, or CircuitClosed when
// no breaker is configured.
func (c *Client) BreakerState() CircuitBreakerState {
	if c.breaker == nil {
		return CircuitClosed
	}
	return c.breaker.State()
}

// healthCheckLoop periodically probes idle connections and retires stale
// ones.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkIdleConnections()
		}
	}
}

func (c *Client) checkIdleConnections() {
	now := time.Now()

	for _, res := range c.pool.AcquireAllIdle() {
		if c.cfg.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > c.cfg.MaxConnLifetime {
			res.Destroy()
			continue
		}
		if c.cfg.MaxConnIdleTime > 0 && res.IdleDuration() > c.cfg.MaxConnIdleTime {
			res.Destroy()
			continue
		}
		if err := c.healthCheck(res.Value()); err != nil {
			res.Destroy()
			continue
		}
		res.ReleaseUnused()
	}
}

// healthCheck probes a connection with the identity query.
func (c *Client) healthCheck(conn *ControlConnection) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	resp, err := conn.Exchange(ctx, ctrl.Query("*IDN"))
	if err != nil {
		return err
	}
	if resp.Kind != ctrl.KindValue {
		return fmt.Errorf("health check: unexpected %s response", resp.Kind)
	}
	return nil
}
