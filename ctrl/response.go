package ctrl

// Response is one complete parsed response from the control connection.
// Exactly one of the variants below applies:
//
//	OK          -> Kind == KindOK
//	OK =value   -> Kind == KindValue, Value set
//	!a !b .     -> Kind == KindMulti, Lines set
//	ERR message -> Kind == KindErr, Message set
//
// A Response is only produced once its terminator has been seen; it is
// never partially delivered.
type Response struct {
	Kind    Kind
	Value   string   // KindValue only
	Lines   []string // KindMulti only, "!" prefixes stripped
	Message string   // KindErr only
}

// Kind discriminates the response variants.
type Kind int

const (
	KindOK Kind = iota
	KindValue
	KindMulti
	KindErr
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindValue:
		return "value"
	case KindMulti:
		return "multi"
	case KindErr:
		return "error"
	default:
		return "unknown"
	}
}

// IsErr reports whether the controller rejected the command.
func (r *Response) IsErr() bool {
	return r.Kind == KindErr
}

// Multi returns the response lines for both single and multi-line
// successes, so Raw passthrough callers see a uniform shape.
func (r *Response) Multi() []string {
	if r.Kind == KindMulti {
		return r.Lines
	}
	return nil
}
