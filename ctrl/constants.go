package ctrl

// Control protocol markers. One command line (or a multi-line table
// assignment terminated by a blank line) is answered by exactly one
// response: "OK", "OK =value", a run of "!" lines closed by ".", or
// "ERR message".
const (
	// OKPrefix introduces a single-value success response: "OK =value"
	OKPrefix = "OK ="

	// OKLine is the bare success response to assignments
	OKLine = "OK"

	// ErrPrefix introduces an error response from the controller
	ErrPrefix = "ERR "

	// MultiPrefix introduces one line of a multi-line response
	MultiPrefix = "!"

	// MultiEnd is the sentinel line terminating a multi-line response
	MultiEnd = "."

	// LF terminates every control protocol line
	LF = "\n"
)

// Table assignment modes. The mode character(s) follow the "<" in the
// command line, e.g. "SEQ1.TABLE<B".
type TableMode string

const (
	// TableOverwrite replaces the whole table: "TARGET<"
	TableOverwrite TableMode = ""

	// TableAppend appends rows to the table: "TARGET<<"
	TableAppend TableMode = "<"

	// TableOverwriteBase64 replaces the table with base64 encoded data: "TARGET<B"
	TableOverwriteBase64 TableMode = "B"

	// TableAppendBase64 appends base64 encoded data: "TARGET<<B"
	TableAppendBase64 TableMode = "<B"
)
