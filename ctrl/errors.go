package ctrl

// Error types for the control protocol. Each error reports whether the
// connection protocol state is still trustworthy after it occurred, so
// the connection layer can decide between reuse and teardown.

// ControllerError is a well-formed "ERR message" response from the
// controller's business logic. The protocol exchange completed normally,
// so the connection remains usable.
//
// Common causes:
//   - Unknown field or block name
//   - Value out of range for the field
//   - Assignment to a read-only target
type ControllerError struct {
	Command string // the command line that was rejected
	Message string // the controller's message, verbatim
}

func (e *ControllerError) Error() string {
	return e.Command + " -> ERR " + e.Message
}

// ShouldCloseConnection returns false: an ERR response is a complete,
// correctly framed exchange.
func (e *ControllerError) ShouldCloseConnection() bool {
	return false
}

// ProtocolError indicates malformed or semantically invalid data from the
// controller: a response line matching no known form, a shape mismatch for
// a typed command, or inconsistent introspection data. Framing cannot be
// safely resynchronized, so the connection must be closed.
type ProtocolError struct {
	Command string // command in flight, empty if not attributable
	Detail  string
	Err     error // underlying error, if any
}

func (e *ProtocolError) Error() string {
	msg := "protocol error: " + e.Detail
	if e.Command != "" {
		msg = e.Command + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true: the parser state is uncertain.
func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}
