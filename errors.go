package blockctl

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned by operations on a connection
	// after Close has been called on it.
	ErrConnectionClosed = errors.New("blockctl: connection closed")

	// ErrPoolClosed is returned by Acquire on a closed pool.
	ErrPoolClosed = errors.New("blockctl: pool closed")
)

// ConnectionError wraps an I/O failure on the control socket. The
// connection is broken and must be re-established by the caller; the
// library performs no hidden retries.
type ConnectionError struct {
	Op  string // "dial", "write", "read"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("blockctl: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true: the socket is already broken.
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// TimeoutError reports an expired deadline on connect or exchange. The
// connection is left disconnected; reconnect and retry is the caller's
// decision.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("blockctl: %s deadline exceeded: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true: a response may still be in flight
// for the abandoned request, so attribution on this socket is lost.
func (e *TimeoutError) ShouldCloseConnection() bool {
	return true
}

// InvalidOperationError reports a client-side misuse caught before any
// bytes are sent, e.g. writing to a read-only field. The connection is
// untouched.
type InvalidOperationError struct {
	Target string
	Detail string
}

func (e *InvalidOperationError) Error() string {
	return "blockctl: invalid operation on " + e.Target + ": " + e.Detail
}

// ShouldCloseConnection returns false: nothing reached the wire.
func (e *InvalidOperationError) ShouldCloseConnection() bool {
	return false
}

// ErrorWithConnectionState is implemented by every error in the taxonomy
// (including ctrl.ProtocolError, ctrl.ControllerError and
// capture.StreamError) and reports whether the connection that produced
// it can still be trusted.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err requires tearing down the
// connection it occurred on. Unknown error types are treated as fatal to
// the connection, which is the conservative choice.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}
	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}
	return true
}
