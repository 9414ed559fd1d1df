package ctrl

import (
	"bytes"
	"io"
	"regexp"
	"strings"
)

// Shape describes the response a request expects back from the controller.
type Shape int

const (
	// ShapeNone expects a bare "OK" (assignments, table writes)
	ShapeNone Shape = iota

	// ShapeValue expects "OK =value" or a multi-line response (queries)
	ShapeValue

	// ShapeRaw accepts whatever comes back (raw passthrough)
	ShapeRaw
)

// Request is one rendered control command plus the response shape it
// expects. A Request exists for the duration of one exchange and is
// immutable once built.
type Request struct {
	// Lines are the command lines to send, without terminators.
	// Single for queries and assignments, multiple for table writes.
	Lines []string

	// Shape is the expected response shape, used by the command layer
	// to detect mismatched responses.
	Shape Shape
}

// Query builds a value query: "TARGET?".
// Target is a field ("PULSE1.DELAY"), an attribute ("PULSE1.DELAY.UNITS"),
// or a star command ("*IDN").
func Query(target string) *Request {
	return &Request{Lines: []string{target + "?"}, Shape: ShapeValue}
}

// Assign builds a single-line assignment: "TARGET=value".
// An empty value is legal and used by action targets ("*PCAP.ARM=").
func Assign(target, value string) *Request {
	return &Request{Lines: []string{target + "=" + value}, Shape: ShapeNone}
}

// AssignTable builds a multi-line table assignment: "TARGET<mode" followed
// by the value lines and the terminating blank line.
func AssignTable(target string, mode TableMode, values []string) *Request {
	lines := make([]string, 0, len(values)+2)
	lines = append(lines, target+"<"+string(mode))
	lines = append(lines, values...)
	lines = append(lines, "")
	return &Request{Lines: lines, Shape: ShapeNone}
}

// RawLines wraps already-formed command lines. The caller is responsible
// for including the blank terminator line of table assignments.
func RawLines(lines []string) *Request {
	return &Request{Lines: lines, Shape: ShapeRaw}
}

// tableCommand matches lines the server will treat as the start of a
// multi-line input: "<" appears before any "?" or "=".
var tableCommand = regexp.MustCompile(`^[^?=]*<`)

// IsTableCommand reports whether the server will interpret line as the
// start of a multi-line table assignment.
func IsTableCommand(line string) bool {
	return tableCommand.MatchString(line)
}

// Encode renders the request to its exact wire bytes.
// It is deterministic and total for well-formed requests.
func (r *Request) Encode(w io.Writer) error {
	_, err := w.Write(r.Bytes())
	return err
}

// Bytes returns the wire encoding of the request.
func (r *Request) Bytes() []byte {
	n := 0
	for _, line := range r.Lines {
		n += len(line) + 1
	}
	var buf bytes.Buffer
	buf.Grow(n)
	for _, line := range r.Lines {
		buf.WriteString(line)
		buf.WriteString(LF)
	}
	return buf.Bytes()
}

// String returns the command for error reporting: the first line, which
// identifies the target and operation.
func (r *Request) String() string {
	if len(r.Lines) == 0 {
		return "<empty>"
	}
	return strings.TrimSpace(r.Lines[0])
}
