package blockctl

import (
	"context"
	"strings"

	"github.com/aperture-controls/blockctl/ctrl"
)

// Exchanger executes one control protocol exchange. Implemented by
// ControlConnection (single socket) and Client (pooled sockets); Commands
// layers typed operations over either.
type Exchanger interface {
	Exchange(ctx context.Context, req *ctrl.Request) (*ctrl.Response, error)
}

// Commands provides the typed command set of the controller. Each method
// maps to exactly one wire rendering and one expected response shape;
// a response of any other shape is a protocol error naming the command.
type Commands struct {
	exchanger Exchanger
}

// NewCommands layers the typed command set over an Exchanger.
func NewCommands(exchanger Exchanger) *Commands {
	return &Commands{exchanger: exchanger}
}

// Get queries a single-value field, attribute or star command:
//
//	Get(ctx, "PCAP.ACTIVE")  -> "1"
//	Get(ctx, "*IDN")         -> "PandA SW: 3.0 ..."
func (c *Commands) Get(ctx context.Context, target string) (string, error) {
	req := ctrl.Query(target)
	resp, err := c.exchanger.Exchange(ctx, req)
	if err != nil {
		return "", err
	}
	if err := commandErr(req, resp); err != nil {
		return "", err
	}
	if resp.Kind != ctrl.KindValue {
		return "", shapeErr(req, resp, "single value")
	}
	return resp.Value, nil
}

// GetMulti queries a multi-line value such as a table or enum label list:
//
//	GetMulti(ctx, "SEQ1.TABLE")  -> ["1048576", "0", "1000", "1000"]
func (c *Commands) GetMulti(ctx context.Context, target string) ([]string, error) {
	req := ctrl.Query(target)
	resp, err := c.exchanger.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := commandErr(req, resp); err != nil {
		return nil, err
	}
	if resp.Kind != ctrl.KindMulti {
		return nil, shapeErr(req, resp, "multi-line value")
	}
	return resp.Lines, nil
}

// Put assigns a single-line value to a field, attribute or star command:
//
//	Put(ctx, "PCAP.TRIG", "PULSE1.OUT")
func (c *Commands) Put(ctx context.Context, target, value string) error {
	return c.expectOK(ctx, ctrl.Assign(target, value))
}

// PutTable writes a multi-line table value:
//
//	PutTable(ctx, "SEQ1.TABLE", ctrl.TableOverwrite, rows)
func (c *Commands) PutTable(ctx context.Context, target string, mode ctrl.TableMode, lines []string) error {
	return c.expectOK(ctx, ctrl.AssignTable(target, mode, lines))
}

// Arm starts an acquisition.
func (c *Commands) Arm(ctx context.Context) error {
	return c.expectOK(ctx, ctrl.Assign("*PCAP.ARM", ""))
}

// Disarm stops an acquisition; the data stream then ends with reason
// Disarmed.
func (c *Commands) Disarm(ctx context.Context) error {
	return c.expectOK(ctx, ctrl.Assign("*PCAP.DISARM", ""))
}

// Raw sends already-formed command lines and returns the raw response
// lines, exactly as a terminal session would see them:
//
//	Raw(ctx, []string{"PCAP.ACTIVE?"})  -> ["OK =1"]
//	Raw(ctx, []string{"SEQ1.TABLE?"})   -> ["!1", "!0", "."]
func (c *Commands) Raw(ctx context.Context, lines []string) ([]string, error) {
	resp, err := c.exchanger.Exchange(ctx, ctrl.RawLines(lines))
	if err != nil {
		return nil, err
	}

	switch resp.Kind {
	case ctrl.KindOK:
		return []string{ctrl.OKLine}, nil
	case ctrl.KindValue:
		return []string{ctrl.OKPrefix + resp.Value}, nil
	case ctrl.KindErr:
		return []string{ctrl.ErrPrefix + resp.Message}, nil
	default:
		out := make([]string, 0, len(resp.Lines)+1)
		for _, line := range resp.Lines {
			out = append(out, ctrl.MultiPrefix+line)
		}
		return append(out, ctrl.MultiEnd), nil
	}
}

// ChangeGroup restricts a *CHANGES query to one group of values.
type ChangeGroup string

const (
	ChangesAll      ChangeGroup = ""
	ChangesConfig   ChangeGroup = ".CONFIG"
	ChangesBits     ChangeGroup = ".BITS"
	ChangesPosn     ChangeGroup = ".POSN"
	ChangesRead     ChangeGroup = ".READ"
	ChangesAttr     ChangeGroup = ".ATTR"
	ChangesTable    ChangeGroup = ".TABLE"
	ChangesMetadata ChangeGroup = ".METADATA"
)

// Changes is the result of a *CHANGES query: what moved since the last
// time this connection asked.
type Changes struct {
	// Values maps field -> value for single-line values
	Values map[string]string

	// NoValue lists fields reported without a value (tables)
	NoValue []string

	// InError lists fields the controller could not read
	InError []string
}

// GetChanges reports fields that changed since the last GetChanges on the
// same connection. Change tracking is per-connection server state, so
// callers needing a coherent snapshot should issue this via a single
// ControlConnection rather than a pooled Client.
func (c *Commands) GetChanges(ctx context.Context, group ChangeGroup) (Changes, error) {
	req := ctrl.Query("*CHANGES" + string(group))
	resp, err := c.exchanger.Exchange(ctx, req)
	if err != nil {
		return Changes{}, err
	}
	if err := commandErr(req, resp); err != nil {
		return Changes{}, err
	}
	if resp.Kind != ctrl.KindMulti {
		return Changes{}, shapeErr(req, resp, "multi-line value")
	}

	changes := Changes{Values: make(map[string]string)}
	for _, line := range resp.Lines {
		switch {
		case strings.HasSuffix(line, "<"):
			changes.NoValue = append(changes.NoValue, strings.TrimSuffix(line, "<"))
		case strings.HasSuffix(line, "(error)"):
			field, _, _ := strings.Cut(line, " ")
			changes.InError = append(changes.InError, field)
		default:
			field, value, found := strings.Cut(line, "=")
			if !found {
				return Changes{}, &ctrl.ProtocolError{
					Command: req.String(),
					Detail:  "changes line without =: " + line,
				}
			}
			changes.Values[field] = value
		}
	}
	return changes, nil
}

// expectOK performs an exchange whose only success shape is a bare OK.
func (c *Commands) expectOK(ctx context.Context, req *ctrl.Request) error {
	resp, err := c.exchanger.Exchange(ctx, req)
	if err != nil {
		return err
	}
	if err := commandErr(req, resp); err != nil {
		return err
	}
	if resp.Kind != ctrl.KindOK {
		return shapeErr(req, resp, "OK")
	}
	return nil
}

// commandErr converts a controller ERR response into a typed error.
func commandErr(req *ctrl.Request, resp *ctrl.Response) error {
	if resp.IsErr() {
		return &ctrl.ControllerError{Command: req.String(), Message: resp.Message}
	}
	return nil
}

// shapeErr reports a response whose shape does not match the command.
func shapeErr(req *ctrl.Request, resp *ctrl.Response, want string) error {
	return &ctrl.ProtocolError{
		Command: req.String(),
		Detail:  "expected " + want + " response, got " + resp.Kind.String(),
	}
}
