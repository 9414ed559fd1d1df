package blockctl

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aperture-controls/blockctl/capture"
	"github.com/aperture-controls/blockctl/ctrl"
)

func TestShouldCloseConnection(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&ConnectionError{Op: "read", Err: errors.New("reset")}, true},
		{&TimeoutError{Op: "read", Err: errors.New("timeout")}, true},
		{&InvalidOperationError{Target: "X.Y", Detail: "read-only"}, false},
		{&ctrl.ControllerError{Command: "X?", Message: "no"}, false},
		{&ctrl.ProtocolError{Detail: "garbage"}, true},
		{&capture.StreamError{Detail: "bad frame"}, true},
		// Wrapped errors are unwrapped to find the taxonomy
		{fmt.Errorf("context: %w", &ctrl.ControllerError{Command: "X?", Message: "no"}), false},
		// Unknown errors are conservatively fatal
		{errors.New("mystery"), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldCloseConnection(tt.err), "err %v", tt.err)
	}
}

func TestErrorMessages(t *testing.T) {
	cerr := &ctrl.ControllerError{Command: "NOPE.NOPE?", Message: "No such field"}
	assert.Equal(t, "NOPE.NOPE? -> ERR No such field", cerr.Error())

	perr := &ctrl.ProtocolError{Command: "X?", Detail: "unparseable response"}
	assert.Contains(t, perr.Error(), "X?")
	assert.Contains(t, perr.Error(), "unparseable response")

	serr := &capture.StreamError{Offset: 128, Detail: "bad frame"}
	assert.Contains(t, serr.Error(), "byte 128")

	ierr := &InvalidOperationError{Target: "PCAP.ARM", Detail: "not readable"}
	assert.Contains(t, ierr.Error(), "PCAP.ARM")
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("reset by peer")
	assert.ErrorIs(t, &ConnectionError{Op: "read", Err: inner}, inner)
	assert.ErrorIs(t, &TimeoutError{Op: "read", Err: inner}, inner)
	assert.ErrorIs(t, &ctrl.ProtocolError{Detail: "x", Err: inner}, inner)
	assert.ErrorIs(t, &capture.StreamError{Detail: "x", Err: inner}, inner)
}
