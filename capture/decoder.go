package capture

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
)

// Decoder incrementally parses the data-channel byte stream into Data
// events. Like ctrl.Decoder it is fed raw socket bytes and never consumes
// the bytes of an incomplete frame, so partial reads are routine.
//
// The stream grammar it accepts:
//
//	"OK\n"
//	"<header>\n" ... "</header>\n"      one tag per line
//	( "BIN " <u32 length> <payload> )*  length includes the 8 header bytes
//	"END <samples> <reason>\n"
//
// After an END the decoder returns to the awaiting-header state: the
// controller reuses the connection for the next acquisition, announcing a
// fresh (possibly different) layout.
type Decoder struct {
	buf []byte
	pos int

	state    decodeState
	header   bytes.Buffer
	layout   *Layout
	nextIdx  uint64 // sample index of the next row to arrive
	consumed int64  // total bytes consumed, for error offsets
}

type decodeState int

const (
	stateConnected decodeState = iota // waiting for "OK"
	stateHeader                       // accumulating header lines
	stateStreaming                    // framed data until END
)

const frameHeaderLen = 8

var binMagic = []byte("BIN ")

// NewDecoder returns a decoder in the awaiting-OK state.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends bytes received from the socket.
func (d *Decoder) Feed(p []byte) {
	if d.pos > 0 && d.pos == len(d.buf) {
		d.buf = d.buf[:0]
		d.pos = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of unconsumed bytes held by the decoder.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.pos
}

// Next attempts to pop one complete Data event. ok is false when more
// bytes are needed. A non-nil error is a *StreamError; the decoder is
// unusable afterwards.
func (d *Decoder) Next() (Data, bool, error) {
	switch d.state {
	case stateConnected:
		return d.nextConnected()
	case stateHeader:
		return d.nextHeader()
	default:
		return d.nextFrame()
	}
}

func (d *Decoder) nextConnected() (Data, bool, error) {
	line, ok, err := d.nextLine()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if line != "OK" {
		return nil, false, d.errorf("expected OK to option line, got " + strconv.Quote(line))
	}
	d.state = stateHeader
	return Ready{}, true, nil
}

func (d *Decoder) nextHeader() (Data, bool, error) {
	for {
		line, ok, err := d.nextLine()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if d.header.Len() == 0 && line != "<header>" {
			return nil, false, d.errorf("expected <header>, got " + strconv.Quote(line))
		}
		d.header.WriteString(line)
		d.header.WriteByte('\n')
		if line != "</header>" {
			continue
		}

		layout, err := parseHeader(d.header.Bytes())
		if err != nil {
			err.(*StreamError).Offset = d.consumed
			return nil, false, err
		}
		d.header.Reset()
		d.layout = layout
		d.nextIdx = 0
		d.state = stateStreaming
		return Start{Layout: layout}, true, nil
	}
}

func (d *Decoder) nextFrame() (Data, bool, error) {
	rest := d.buf[d.pos:]
	if len(rest) < 4 {
		return nil, false, nil
	}

	if !bytes.HasPrefix(rest, binMagic) {
		// Not a data frame, must be the END line
		return d.nextEnd()
	}

	if len(rest) < frameHeaderLen {
		return nil, false, nil
	}
	length := binary.LittleEndian.Uint32(rest[4:frameHeaderLen])
	if length < frameHeaderLen {
		return nil, false, d.errorf("frame length " + strconv.Itoa(int(length)) + " below minimum")
	}
	if len(rest) < int(length) {
		// Incomplete frame, consume nothing
		return nil, false, nil
	}

	payload := rest[frameHeaderLen:length]
	if len(payload)%d.layout.SampleBytes != 0 {
		return nil, false, d.errorf("frame payload of " + strconv.Itoa(len(payload)) +
			" bytes is not a whole number of " + strconv.Itoa(d.layout.SampleBytes) + " byte rows")
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)
	frame := &Frame{layout: d.layout, Raw: raw, FirstIndex: d.nextIdx}
	d.nextIdx += uint64(frame.NumRows())
	d.advance(int(length))
	return frame, true, nil
}

func (d *Decoder) nextEnd() (Data, bool, error) {
	line, ok, err := d.nextLine()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 || fields[0] != "END" {
		return nil, false, d.errorf("expected END line, got " + strconv.Quote(line))
	}
	samples, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, false, &StreamError{Offset: d.consumed, Detail: "bad sample count in END line", Err: err}
	}
	reason := EndReason(fields[2])
	if !knownReasons[reason] {
		return nil, false, d.errorf("unknown end reason " + strconv.Quote(fields[2]))
	}

	// Connection stays open, next acquisition starts with a new header
	d.layout = nil
	d.state = stateHeader
	return End{Samples: samples, Reason: reason}, true, nil
}

// maxLineLen bounds text lines. Real lines are tens of bytes; anything
// longer means binary data arrived where a line was expected.
const maxLineLen = 4096

// nextLine pops one newline-terminated ASCII line. A runaway line fails
// instead of buffering unboundedly.
func (d *Decoder) nextLine() (string, bool, error) {
	rest := d.buf[d.pos:]
	i := bytes.IndexByte(rest, '\n')
	if i == -1 {
		if len(rest) > maxLineLen {
			return "", false, d.errorf("no line terminator within " + strconv.Itoa(maxLineLen) + " bytes")
		}
		return "", false, nil
	}
	if i > maxLineLen {
		return "", false, d.errorf("line of " + strconv.Itoa(i) + " bytes exceeds maximum")
	}
	line := string(rest[:i])
	d.advance(i + 1)
	return line, true, nil
}

func (d *Decoder) advance(n int) {
	d.pos += n
	d.consumed += int64(n)
}

func (d *Decoder) errorf(detail string) error {
	return &StreamError{Offset: d.consumed, Detail: detail}
}
