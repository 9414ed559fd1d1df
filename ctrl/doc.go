// Package ctrl provides a low-level wire codec for the controller's
// line-based control protocol.
//
// This package serves as a foundation for building higher-level clients
// with different properties (connection pooling, typed command sets,
// introspection). It focuses on correctness of rendering and parsing,
// without imposing architectural decisions on clients: it never touches
// a socket.
//
// # Core Types
//
// Request and Response are pure data containers without embedded logic:
//
//   - Request: one rendered command (query, assignment or table write)
//     plus the response shape it expects
//   - Response: one parsed server response (OK, OK =value, multi-line,
//     or ERR)
//
// # Rendering and Parsing
//
// Constructors render commands to their exact wire lines:
//
//	req := ctrl.Query("PCAP.ACTIVE")
//	req.Encode(conn)
//
// Decoder parses the response stream incrementally. Feed it raw bytes
// as they arrive and pull complete responses; partial input is held
// until the rest shows up, so TCP segmentation never changes the
// result:
//
//	dec := ctrl.NewDecoder()
//	dec.Feed(chunk)
//	for {
//		resp, ok, err := dec.Next()
//		if err != nil || !ok {
//			break
//		}
//		handle(resp)
//	}
//
// # Errors
//
// ControllerError is the server saying no to a well-formed exchange;
// the connection remains usable. ProtocolError means the byte stream
// itself made no sense and the connection must be closed. Both report
// which through ShouldCloseConnection.
package ctrl
