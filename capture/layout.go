package capture

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// FieldCapture describes one captured field announced by the stream
// header: its position in the row is its position in Layout.Fields.
type FieldCapture struct {
	// Name of the captured field, e.g. "COUNTER1.OUT"
	Name string

	// Type as transmitted on the wire
	Type FieldType

	// Capture is the CAPTURE mode that enabled this field,
	// e.g. "Value", "Diff", "Mean", "Min", "Max"
	Capture string

	// Scale, Offset and Units convert raw values to engineering units:
	// eng = raw*Scale + Offset
	Scale  float64
	Offset float64
	Units  string
}

// Column returns the canonical column name "<name>.<capture>" used by
// downstream table writers.
func (f FieldCapture) Column() string {
	return f.Name + "." + f.Capture
}

// Layout is the column layout of one capture, fixed from its header frame
// until the End frame. It is immutable and safe to share across readers
// of decoded records.
type Layout struct {
	Fields      []FieldCapture
	SampleBytes int

	// Missed is the number of samples missed by a late data port
	// connection, as reported in the header.
	Missed int

	// Process and Format echo the data processing and delivery options
	// the server committed to ("Scaled"/"Raw", "Framed").
	Process string
	Format  string

	order   binary.ByteOrder
	offsets []int
	index   map[string]int
}

// ByteOrder returns the byte order the header declared.
func (l *Layout) ByteOrder() binary.ByteOrder {
	return l.order
}

// FieldIndex returns the row position of the named field.
func (l *Layout) FieldIndex(name string) (int, bool) {
	i, ok := l.index[name]
	return i, ok
}

// Fingerprint returns a stable 64-bit hash of the column layout (names,
// types, capture modes and scaling), letting consumers detect a schema
// change between captures without comparing field by field.
func (l *Layout) Fingerprint() uint64 {
	var sb strings.Builder
	for _, f := range l.Fields {
		fmt.Fprintf(&sb, "%s|%s|%s|%g|%g|%s\n",
			f.Name, f.Type, f.Capture, f.Scale, f.Offset, f.Units)
	}
	return xxh3.HashString(sb.String())
}

// xmlHeader mirrors the stream header document:
//
//	<header>
//	<data endian="little" sample_bytes="16" missed="0" process="Scaled" format="Framed" />
//	<fields>
//	<field name="COUNTER1.OUT" type="double" capture="Value" scale="1" offset="0" units="" />
//	</fields>
//	</header>
type xmlHeader struct {
	XMLName xml.Name `xml:"header"`
	Data    struct {
		Endian      string `xml:"endian,attr"`
		SampleBytes int    `xml:"sample_bytes,attr"`
		Missed      int    `xml:"missed,attr"`
		Process     string `xml:"process,attr"`
		Format      string `xml:"format,attr"`
	} `xml:"data"`
	Fields []struct {
		Name    string `xml:"name,attr"`
		Type    string `xml:"type,attr"`
		Capture string `xml:"capture,attr"`
		Scale   string `xml:"scale,attr"`
		Offset  string `xml:"offset,attr"`
		Units   string `xml:"units,attr"`
	} `xml:"fields>field"`
}

// parseHeader builds a Layout from the accumulated header document.
func parseHeader(doc []byte) (*Layout, error) {
	var h xmlHeader
	if err := xml.Unmarshal(doc, &h); err != nil {
		return nil, &StreamError{Detail: "malformed header document", Err: err}
	}

	layout := &Layout{
		SampleBytes: h.Data.SampleBytes,
		Missed:      h.Data.Missed,
		Process:     h.Data.Process,
		Format:      h.Data.Format,
		index:       make(map[string]int, len(h.Fields)),
	}

	switch h.Data.Endian {
	case "little", "":
		layout.order = binary.LittleEndian
	case "big":
		layout.order = binary.BigEndian
	default:
		return nil, &StreamError{Detail: "unknown endianness " + strconv.Quote(h.Data.Endian)}
	}

	rowBytes := 0
	for i, f := range h.Fields {
		t, ok := ParseFieldType(f.Type)
		if !ok {
			return nil, &StreamError{
				Detail: fmt.Sprintf("field %s has unknown type %q", f.Name, f.Type),
			}
		}

		fc := FieldCapture{
			Name:    f.Name,
			Type:    t,
			Capture: f.Capture,
			Scale:   1,
			Units:   f.Units,
		}
		if f.Scale != "" {
			scale, err := strconv.ParseFloat(f.Scale, 64)
			if err != nil {
				return nil, &StreamError{Detail: "field " + f.Name + " has bad scale", Err: err}
			}
			fc.Scale = scale
		}
		if f.Offset != "" {
			offset, err := strconv.ParseFloat(f.Offset, 64)
			if err != nil {
				return nil, &StreamError{Detail: "field " + f.Name + " has bad offset", Err: err}
			}
			fc.Offset = offset
		}

		layout.Fields = append(layout.Fields, fc)
		layout.offsets = append(layout.offsets, rowBytes)
		layout.index[f.Name] = i
		rowBytes += t.Width()
	}

	if rowBytes != layout.SampleBytes {
		return nil, &StreamError{
			Detail: fmt.Sprintf("header declares sample_bytes=%d but fields sum to %d",
				layout.SampleBytes, rowBytes),
		}
	}
	if layout.SampleBytes == 0 {
		return nil, &StreamError{Detail: "header declares no captured fields"}
	}

	return layout, nil
}
