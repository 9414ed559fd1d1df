package capture

// Data is one decoded event from the data connection. The concrete types
// are Ready, Start, Frame and End; one capture is the sequence
//
//	Ready, Start, Frame*, End
//
// and no Frame is ever delivered before its Start.
type Data interface {
	data()
}

// Ready is yielded once when the server has accepted the option line and
// the connection is ready to take data.
type Ready struct{}

// Start is yielded when an acquisition begins, carrying the column layout
// every following Frame is decoded with.
type Start struct {
	Layout *Layout
}

// Frame is one flushed block of whole sample rows.
type Frame struct {
	layout *Layout

	// Raw is the undecoded payload, NumRows() complete rows
	Raw []byte

	// FirstIndex is the sample index of the first row, counted from 0
	// at the start of the acquisition
	FirstIndex uint64
}

// End is yielded when the acquisition ends.
type End struct {
	// Samples is the total number of rows the controller sent
	Samples uint64

	// Reason is why the acquisition completed; not necessarily an
	// error, see EndReason.Normal
	Reason EndReason
}

func (Ready) data()  {}
func (Start) data()  {}
func (*Frame) data() {}
func (End) data()    {}

// Layout returns the column layout the frame was captured under.
func (f *Frame) Layout() *Layout {
	return f.layout
}

// NumRows returns the number of complete rows in the frame.
func (f *Frame) NumRows() int {
	return len(f.Raw) / f.layout.SampleBytes
}

// Record returns row i of the frame.
func (f *Frame) Record(i int) Record {
	start := i * f.layout.SampleBytes
	return Record{
		Index:  f.FirstIndex + uint64(i),
		layout: f.layout,
		row:    f.Raw[start : start+f.layout.SampleBytes],
	}
}

// Records decodes every row of the frame, in production order.
func (f *Frame) Records() []Record {
	records := make([]Record, f.NumRows())
	for i := range records {
		records[i] = f.Record(i)
	}
	return records
}

// Column returns the scaled engineering values of one field across all
// rows of the frame.
func (f *Frame) Column(name string) ([]float64, bool) {
	fi, ok := f.layout.FieldIndex(name)
	if !ok {
		return nil, false
	}
	col := make([]float64, f.NumRows())
	for i := range col {
		col[i] = f.Record(i).Scaled(fi)
	}
	return col, true
}

// Record is one decoded sample row: the field values at one capture
// trigger, positioned by a monotonically increasing index within the
// acquisition.
type Record struct {
	// Index is the sample index within the acquisition, starting at 0
	Index uint64

	layout *Layout
	row    []byte
}

// Len returns the number of fields in the record.
func (r Record) Len() int {
	return len(r.layout.Fields)
}

// Value returns the raw typed value of field i.
func (r Record) Value(i int) Value {
	return decodeValue(r.layout.Fields[i].Type, r.layout.order, r.row[r.layout.offsets[i]:])
}

// ValueNamed returns the raw typed value of the named field.
func (r Record) ValueNamed(name string) (Value, bool) {
	i, ok := r.layout.FieldIndex(name)
	if !ok {
		return Value{}, false
	}
	return r.Value(i), true
}

// Scaled returns the engineering value of field i:
// raw*scale + offset per the layout metadata.
func (r Record) Scaled(i int) float64 {
	f := r.layout.Fields[i]
	return r.Value(i).Float()*f.Scale + f.Offset
}
