package blockctl

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/aperture-controls/blockctl/ctrl"
)

// readChunk is the socket read size for both connections. Control
// responses are short; this mostly bounds syscall count.
const readChunk = 4096

// ControlConnection owns one persistent socket to the control port.
//
// The protocol is strictly request/response with no request identifiers,
// so at most one exchange may be on the wire at a time. Submissions from
// concurrent callers are serialized through an internal FIFO queue and a
// single worker goroutine that owns the socket; responses are attributed
// to requests purely by order.
type ControlConnection struct {
	addr    string
	conn    net.Conn
	dec     *ctrl.Decoder
	timeout time.Duration // default per-exchange deadline, 0 = none

	queue chan *pendingExchange
	quit  chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	closed   bool
	lastUsed time.Time
	created  time.Time
}

type pendingExchange struct {
	req      *ctrl.Request
	deadline time.Time
	result   chan exchangeResult
}

type exchangeResult struct {
	resp *ctrl.Response
	err  error
}

// DialControl establishes a control connection using the config's host,
// control port and connect timeout.
func DialControl(ctx context.Context, cfg Config) (*ControlConnection, error) {
	conn, err := cfg.dialer().DialContext(ctx, "tcp", cfg.ControlAddr())
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Op: "dial " + cfg.ControlAddr(), Err: err}
		}
		return nil, &ConnectionError{Op: "dial " + cfg.ControlAddr(), Err: err}
	}

	c := &ControlConnection{
		addr:    cfg.ControlAddr(),
		conn:    conn,
		dec:     ctrl.NewDecoder(),
		timeout: cfg.ExchangeTimeout,
		queue:   make(chan *pendingExchange, 16),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		created: time.Now(),
	}
	go c.run()
	return c, nil
}

// Addr returns the remote address of the connection.
func (c *ControlConnection) Addr() string {
	return c.addr
}

// IsClosed reports whether the connection has been closed, either
// explicitly or by a fatal error.
func (c *ControlConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastUsed returns when the connection last completed an exchange.
func (c *ControlConnection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// Exchange sends one request and blocks until its response arrives, the
// context expires, or the connection fails.
//
// A controller "ERR" reply is a normal response here (Kind == KindErr):
// the exchange completed and the connection stays usable. Errors returned
// are connection, timeout or protocol failures, after which the
// connection is disconnected.
func (c *ControlConnection) Exchange(ctx context.Context, req *ctrl.Request) (*ctrl.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ex := &pendingExchange{
		req:      req,
		result:   make(chan exchangeResult, 1),
		deadline: c.exchangeDeadline(ctx),
	}

	select {
	case c.queue <- ex:
		// The queue send and the quit receive can both be ready; if the
		// send won after the worker already drained the queue and
		// exited, nothing would ever deliver a result. Re-check quit and
		// drain the queue ourselves in that case.
		select {
		case <-c.quit:
			c.failQueued(ErrConnectionClosed)
		default:
		}
	case <-c.quit:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-ex.result:
		return res.resp, res.err
	case <-ctx.Done():
		// The response for this request may still arrive; attribution
		// on this socket is lost, so tear it down.
		c.Close()
		return nil, &TimeoutError{Op: req.String(), Err: ctx.Err()}
	}
}

// Close releases the socket. Any blocked or queued exchange fails with a
// terminal error rather than hanging. Closing twice is harmless.
func (c *ControlConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	close(c.quit)
	err := c.conn.Close() // unblocks the worker's pending read
	c.mu.Unlock()

	<-c.done
	return err
}

// run is the worker loop. It owns all socket I/O.
func (c *ControlConnection) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.failQueued(ErrConnectionClosed)
			return
		case ex := <-c.queue:
			resp, err := c.roundTrip(ex)
			ex.result <- exchangeResult{resp: resp, err: err}
			if err != nil && ShouldCloseConnection(err) {
				c.teardown()
				c.failQueued(err)
				return
			}
			c.mu.Lock()
			c.lastUsed = time.Now()
			c.mu.Unlock()
		}
	}
}

// roundTrip performs one write + read-until-complete-response cycle.
func (c *ControlConnection) roundTrip(ex *pendingExchange) (*ctrl.Response, error) {
	if err := c.conn.SetDeadline(ex.deadline); err != nil {
		return nil, &ConnectionError{Op: "write", Err: err}
	}

	if _, err := c.conn.Write(ex.req.Bytes()); err != nil {
		return nil, c.ioError("write", ex.req, err)
	}

	buf := make([]byte, readChunk)
	for {
		resp, ok, err := c.dec.Next()
		if err != nil {
			var perr *ctrl.ProtocolError
			if errors.As(err, &perr) && perr.Command == "" {
				perr.Command = ex.req.String()
			}
			return nil, err
		}
		if ok {
			return resp, nil
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			c.dec.Feed(buf[:n])
			continue
		}
		if err != nil {
			return nil, c.ioError("read", ex.req, err)
		}
	}
}

func (c *ControlConnection) ioError(op string, req *ctrl.Request, err error) error {
	op = op + " (" + req.String() + ")"
	if isTimeout(err) {
		return &TimeoutError{Op: op, Err: err}
	}
	return &ConnectionError{Op: op, Err: err}
}

// teardown closes the socket after a fatal error, without waiting for the
// worker (we are the worker).
func (c *ControlConnection) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.quit)
	c.conn.Close()
}

// failQueued drains the submission queue, failing every pending exchange.
func (c *ControlConnection) failQueued(err error) {
	for {
		select {
		case ex := <-c.queue:
			ex.result <- exchangeResult{err: err}
		default:
			return
		}
	}
}

func (c *ControlConnection) exchangeDeadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	if c.timeout > 0 {
		return time.Now().Add(c.timeout)
	}
	return time.Time{}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
