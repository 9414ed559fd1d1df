package capture

// EndReason is why an acquisition completed, from the END line of the
// data stream.
type EndReason string

const (
	// ReasonOK: acquisition completed by the falling edge of the
	// capture enable signal
	ReasonOK EndReason = "Ok"

	// ReasonDisarmed: acquisition stopped by an explicit disarm command
	ReasonDisarmed EndReason = "Disarmed"

	// ReasonEarlyDisconnect: controller detected a client disconnect
	ReasonEarlyDisconnect EndReason = "Early disconnect"

	// ReasonDataOverrun: client not taking data quickly enough or
	// network congestion, controller-side buffer overflowed
	ReasonDataOverrun EndReason = "Data overrun"

	// ReasonFramingError: triggers too fast for the configured capture
	ReasonFramingError EndReason = "Framing error"

	// ReasonDriverDataOverrun: probable CPU overload on the controller
	ReasonDriverDataOverrun EndReason = "Driver data overrun"

	// ReasonDMADataError: capture too fast for memory bandwidth
	ReasonDMADataError EndReason = "DMA data error"
)

var knownReasons = map[EndReason]bool{
	ReasonOK:                true,
	ReasonDisarmed:          true,
	ReasonEarlyDisconnect:   true,
	ReasonDataOverrun:       true,
	ReasonFramingError:      true,
	ReasonDriverDataOverrun: true,
	ReasonDMADataError:      true,
}

// Normal reports whether the acquisition ended without data loss.
func (r EndReason) Normal() bool {
	return r == ReasonOK || r == ReasonDisarmed
}
