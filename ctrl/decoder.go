package ctrl

import (
	"bytes"
	"log/slog"
	"strconv"
	"strings"
)

// Decoder incrementally parses control protocol responses from a byte
// stream. Socket reads are appended with Feed and complete responses are
// popped with Next; partial input is simply retained until more bytes
// arrive, so arbitrary fragmentation of the stream is harmless.
//
// The internal buffer keeps an explicit consumed cursor and compacts
// lazily, so already-parsed bytes are never re-scanned.
//
// A Decoder is not safe for concurrent use; each connection owns one.
type Decoder struct {
	buf  []byte
	pos  int // start of unconsumed bytes
	scan int // line-scan position relative to pos, avoids re-scanning on short feeds

	// multi-line accumulation state
	inMulti bool
	lines   []string
}

// NewDecoder returns a ready Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends bytes received from the socket.
func (d *Decoder) Feed(p []byte) {
	if d.pos > 0 && d.pos == len(d.buf) {
		// Everything consumed, reset instead of growing
		d.buf = d.buf[:0]
		d.pos = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of unconsumed bytes held by the decoder.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.pos
}

// Next attempts to pop one complete response.
// ok is false when the terminator has not arrived yet; feed more bytes
// and call again. A non-nil error is a *ProtocolError and means the
// stream cannot be resynchronized.
func (d *Decoder) Next() (*Response, bool, error) {
	for {
		line, ok := d.nextLine()
		if !ok {
			return nil, false, nil
		}

		if d.inMulti {
			resp, done, err := d.multiLine(line)
			if err != nil || done {
				return resp, done, err
			}
			continue
		}

		switch {
		case line == OKLine:
			return &Response{Kind: KindOK}, true, nil

		case strings.HasPrefix(line, OKPrefix):
			return &Response{Kind: KindValue, Value: line[len(OKPrefix):]}, true, nil

		case strings.HasPrefix(line, ErrPrefix):
			return &Response{Kind: KindErr, Message: line[len(ErrPrefix):]}, true, nil

		case strings.HasPrefix(line, MultiPrefix):
			d.inMulti = true
			d.lines = append(d.lines[:0], line[len(MultiPrefix):])

		case line == MultiEnd:
			// Empty multi-line response, e.g. an empty table
			return &Response{Kind: KindMulti, Lines: []string{}}, true, nil

		default:
			slog.Debug("blockctl: unparseable control response line", "line", line)
			return nil, false, &ProtocolError{Detail: "unparseable response line " + quote(line)}
		}
	}
}

// multiLine consumes one line of an in-progress multi-line response.
func (d *Decoder) multiLine(line string) (*Response, bool, error) {
	switch {
	case line == MultiEnd:
		lines := make([]string, len(d.lines))
		copy(lines, d.lines)
		d.inMulti = false
		d.lines = d.lines[:0]
		return &Response{Kind: KindMulti, Lines: lines}, true, nil

	case strings.HasPrefix(line, MultiPrefix):
		d.lines = append(d.lines, line[len(MultiPrefix):])
		return nil, false, nil

	default:
		d.inMulti = false
		return nil, false, &ProtocolError{Detail: "multi-line response interrupted by " + quote(line)}
	}
}

// nextLine pops one newline-terminated line, without the terminator.
func (d *Decoder) nextLine() (string, bool) {
	rest := d.buf[d.pos:]
	i := bytes.IndexByte(rest[d.scan:], '\n')
	if i == -1 {
		d.scan = len(rest)
		return "", false
	}
	end := d.scan + i
	line := string(rest[:end])
	d.pos += end + 1
	d.scan = 0
	return line, true
}

// quote truncates and quotes a wire line for error messages.
func quote(line string) string {
	const max = 60
	if len(line) > max {
		line = line[:max] + "..."
	}
	return strconv.Quote(line)
}
