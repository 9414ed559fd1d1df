package blockctl

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aperture-controls/blockctl/capture"
)

// DataConnection owns one socket to the data port and turns the binary
// stream into capture.Data events. It is single-pass: Ready, Start, then
// Frames until End, after which Next returns io.EOF. A new acquisition
// needs a new DataConnection.
//
// The connection reads from the socket only when the decoder is starved,
// so a slow consumer bounds buffered memory to a small multiple of one
// frame rather than the whole acquisition.
//
// Not safe for concurrent Next calls; one consumer owns the stream.
type DataConnection struct {
	conn    net.Conn
	dec     *capture.Decoder
	session string // uuid carried in stream error context
	buf     []byte

	mu     sync.Mutex
	closed bool
	ended  bool
}

// DataOptions selects what the controller sends on the data connection.
type DataOptions struct {
	// Scaled asks the controller to apply scale/offset server-side and
	// transmit doubles. False requests raw wire types; scaling then
	// happens client-side via Record.Scaled.
	Scaled bool
}

// optionLine renders the option line sent on connect. Framed delivery
// with an XML header is the only delivery mode this client speaks.
func (o DataOptions) optionLine() string {
	if o.Scaled {
		return "XML FRAMED SCALED\n"
	}
	return "XML FRAMED RAW\n"
}

// DialData connects to the data port and sends the option line. The
// returned connection has not yet consumed the server's response; the
// first Next yields capture.Ready once the controller accepts.
func DialData(ctx context.Context, cfg Config, opts DataOptions) (*DataConnection, error) {
	conn, err := cfg.dialer().DialContext(ctx, "tcp", cfg.DataAddr())
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Op: "dial " + cfg.DataAddr(), Err: err}
		}
		return nil, &ConnectionError{Op: "dial " + cfg.DataAddr(), Err: err}
	}

	if _, err := conn.Write([]byte(opts.optionLine())); err != nil {
		conn.Close()
		return nil, &ConnectionError{Op: "write options", Err: err}
	}

	return &DataConnection{
		conn:    conn,
		dec:     capture.NewDecoder(),
		session: uuid.NewString(),
		buf:     make([]byte, readChunk),
	}, nil
}

// Session returns the client-side ID of this data session, included in
// stream errors to correlate diagnostics across log sources.
func (d *DataConnection) Session() string {
	return d.session
}

// Next returns the next decoded event, blocking on the socket as needed.
// After End has been delivered it returns io.EOF. The context bounds the
// wait; expiry closes the connection.
func (d *DataConnection) Next(ctx context.Context) (capture.Data, error) {
	if d.isEnded() {
		return nil, io.EOF
	}
	if d.isClosed() {
		return nil, ErrConnectionClosed
	}

	for {
		data, ok, err := d.dec.Next()
		if err != nil {
			d.Close()
			return nil, d.streamError(err)
		}
		if ok {
			if _, isEnd := data.(capture.End); isEnd {
				d.setEnded()
				d.Close()
			}
			return data, nil
		}

		if err := d.fill(ctx); err != nil {
			return nil, err
		}
	}
}

// fill performs one bounded socket read into the decoder.
func (d *DataConnection) fill(ctx context.Context) error {
	deadline, _ := ctx.Deadline()
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return &ConnectionError{Op: "read", Err: err}
	}

	// Cancellation (as opposed to deadline expiry) interrupts the read
	// by expiring the deadline early.
	stop := context.AfterFunc(ctx, func() {
		d.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, err := d.conn.Read(d.buf)
	if n > 0 {
		d.dec.Feed(d.buf[:n])
		return nil
	}
	if err == nil {
		return nil
	}

	d.Close()
	switch {
	case d.isClosedErr(err):
		return ErrConnectionClosed
	case isTimeout(err):
		return &TimeoutError{Op: "data read (session " + d.session + ")", Err: err}
	case err == io.EOF:
		return d.streamError(&capture.StreamError{
			Detail: "connection closed mid-stream without END",
			Err:    err,
		})
	default:
		return d.streamError(&capture.StreamError{Detail: "read failed", Err: err})
	}
}

// Close releases the socket and unblocks a pending Next.
func (d *DataConnection) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.conn.Close()
}

func (d *DataConnection) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *DataConnection) setEnded() {
	d.mu.Lock()
	d.ended = true
	d.mu.Unlock()
}

func (d *DataConnection) isEnded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ended
}

// isClosedErr distinguishes a read failing because we closed the socket
// ourselves from a peer-side failure.
func (d *DataConnection) isClosedErr(err error) bool {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	return closed && errIsUseOfClosed(err)
}

func errIsUseOfClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// streamError attaches the session ID to a capture.StreamError.
func (d *DataConnection) streamError(err error) error {
	if serr, ok := err.(*capture.StreamError); ok {
		serr.Detail = "session " + d.session + ": " + serr.Detail
		return serr
	}
	return err
}

// Drain pulls events until End or error, discarding frames. Useful when
// only the End reason matters, e.g. when cancelling an acquisition.
func (d *DataConnection) Drain(ctx context.Context) (capture.End, error) {
	for {
		data, err := d.Next(ctx)
		if err != nil {
			return capture.End{}, err
		}
		if end, ok := data.(capture.End); ok {
			return end, nil
		}
	}
}
