// Package capture provides a low-level decoder for the controller's
// binary data stream: the framed capture format carrying one row of
// sampled field values per trigger.
//
// # Stream Shape
//
// After the client sends its option line, the server answers with an
// acknowledgement, an XML header describing the captured fields, binary
// frames of whole rows, and an END line giving the sample count and
// completion reason. Decoder yields these as Ready, Start (carrying a
// *Layout), Frame and End values.
//
// # Incremental Decoding
//
// Decoder is push/pull: Feed it raw bytes as they arrive and pull
// decoded items with Next. It never consumes a partial frame, so the
// decoded sequence is identical no matter how the stream is sliced
// into reads:
//
//	dec := capture.NewDecoder()
//	dec.Feed(chunk)
//	for {
//		data, ok, err := dec.Next()
//		if err != nil || !ok {
//			break
//		}
//		switch d := data.(type) {
//		case capture.Start:
//			layout = d.Layout
//		case capture.Frame:
//			process(d.Records())
//		case capture.End:
//			done(d.Samples, d.Reason)
//		}
//	}
//
// Frames reference the Layout they were decoded under, so records stay
// interpretable even if a later acquisition on the same stream changes
// the set of captured fields.
package capture
