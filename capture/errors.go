package capture

import "fmt"

// StreamError is a data-channel framing violation or unexpected
// termination: a frame before the header, a bad frame length, a payload
// that is not a whole number of rows, or an END line that cannot be
// parsed. The stream cannot be resynchronized past one of these.
type StreamError struct {
	// Offset is the byte offset into the stream at which the violation
	// was detected, counted from the first byte after the option line.
	Offset int64

	Detail string
	Err    error
}

func (e *StreamError) Error() string {
	msg := fmt.Sprintf("stream error at byte %d: %s", e.Offset, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true: framing state is lost.
func (e *StreamError) ShouldCloseConnection() bool {
	return true
}
