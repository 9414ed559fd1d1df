package blockctl

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aperture-controls/blockctl/ctrl"
)

// FieldKind classifies a field's data kind. The set is closed: a block
// type whose self-description names anything outside it fails
// introspection with a protocol error instead of degrading to untyped
// text.
type FieldKind int

const (
	// KindParam is a plain numeric parameter (uint, int, lut, ...)
	KindParam FieldKind = iota

	// KindScalar is a numeric parameter with scale/offset/units
	KindScalar

	// KindBit is a single bit, either an output on the bit bus
	// (bit_out) or a bit bus input selector (bit_mux)
	KindBit

	// KindEnum takes one of a fixed list of labels
	KindEnum

	// KindTime is a time value with selectable units
	KindTime

	// KindPosition is a position bus output (pos_out) or input
	// selector (pos_mux)
	KindPosition

	// KindExtra is an extended capture source (ext_out)
	KindExtra

	// KindTable is a multi-line table value
	KindTable

	// KindAction is write-only and triggers an effect; it has no value
	// to read back
	KindAction
)

var kindNames = map[FieldKind]string{
	KindParam:    "param",
	KindScalar:   "scalar",
	KindBit:      "bit",
	KindEnum:     "enum",
	KindTime:     "time",
	KindPosition: "position",
	KindExtra:    "extra",
	KindTable:    "table",
	KindAction:   "action",
}

func (k FieldKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// BlockInfo is the number of instances and description of one block type.
type BlockInfo struct {
	Number      int
	Description string
}

// FieldInfo is one typed, addressable attribute of a block type, built
// from the controller's self-description.
type FieldInfo struct {
	Name    string
	Index   int // definition order within the block
	Kind    FieldKind
	Type    string // wire type string, e.g. "param", "bit_mux"
	Subtype string // wire subtype string, "" if none

	Description string

	// Labels holds enum or mux labels when the kind has them
	Labels []string

	// Units, Scale, Offset apply to scalar fields:
	// eng = raw*Scale + Offset
	Units  string
	Scale  float64
	Offset float64

	// UnitsLabels are the selectable units of time fields
	UnitsLabels []string

	// Max is the maximum of uint params, Min the minimum of time fields
	Max float64
	Min float64

	// MaxDelay is the delay range of bit_mux inputs
	MaxDelay int

	// CaptureWord and WordOffset locate bit_out fields on the bit bus
	CaptureWord string
	WordOffset  int

	// CaptureLabels are the capture mode options of pos_out/ext_out
	CaptureLabels []string

	// Bits are the bit field names of an ext_out bits field
	Bits []string

	readable  bool
	writeable bool
}

// Readable reports whether the field's value can be queried.
func (f *FieldInfo) Readable() bool { return f.readable }

// Writeable reports whether the field accepts assignment.
func (f *FieldInfo) Writeable() bool { return f.writeable }

// BlockType is one block type and its fields, in definition order.
type BlockType struct {
	Name        string
	Number      int
	Description string

	fields map[string]*FieldInfo
	order  []string
}

// Field returns the named field's definition.
func (b *BlockType) Field(name string) (*FieldInfo, bool) {
	f, ok := b.fields[name]
	return f, ok
}

// FieldNames returns the field names in controller definition order.
func (b *BlockType) FieldNames() []string {
	return append([]string(nil), b.order...)
}

// Catalog is the introspected block/field model of one controller. It is
// immutable once built and safe for concurrent readers; re-introspection
// builds a new Catalog.
type Catalog struct {
	blocks map[string]*BlockType
	order  []string
}

// Block returns the named block type.
func (c *Catalog) Block(name string) (*BlockType, bool) {
	b, ok := c.blocks[name]
	return b, ok
}

// BlockNames returns the block type names, alphabetically.
func (c *Catalog) BlockNames() []string {
	return append([]string(nil), c.order...)
}

// ResolveTarget splits "COUNTER1.OUT" into its block type, instance and
// field definition. The instance number is optional for attribute-style
// targets ("PCAP.TRIG").
func (c *Catalog) ResolveTarget(target string) (*BlockType, *FieldInfo, error) {
	blockPart, fieldPart, found := strings.Cut(target, ".")
	if !found {
		return nil, nil, &InvalidOperationError{Target: target, Detail: "target must be BLOCK.FIELD"}
	}
	typeName := strings.TrimRight(blockPart, "0123456789")

	block, ok := c.blocks[typeName]
	if !ok {
		return nil, nil, &InvalidOperationError{Target: target, Detail: "unknown block type " + typeName}
	}
	fieldName, _, _ := strings.Cut(fieldPart, ".")
	field, ok := block.Field(fieldName)
	if !ok {
		return nil, nil, &InvalidOperationError{Target: target, Detail: "unknown field " + fieldName}
	}
	return block, field, nil
}

// GetScaled reads a numeric field and converts the raw wire value to
// engineering units using the field's scale and offset.
func (c *Catalog) GetScaled(ctx context.Context, cmds *Commands, target string) (float64, error) {
	_, field, err := c.ResolveTarget(target)
	if err != nil {
		return 0, err
	}
	if !field.readable {
		return 0, &InvalidOperationError{Target: target, Detail: field.Kind.String() + " field is not readable"}
	}

	raw, err := cmds.Get(ctx, target)
	if err != nil {
		return 0, err
	}
	rawValue, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ctrl.ProtocolError{Command: target + "?", Detail: "non-numeric value " + strconv.Quote(raw), Err: err}
	}
	return rawValue*field.Scale + field.Offset, nil
}

// PutScaled converts an engineering value to its raw wire representation
// and assigns it. Writing a read-only or action field fails without
// touching the wire.
func (c *Catalog) PutScaled(ctx context.Context, cmds *Commands, target string, value float64) error {
	_, field, err := c.ResolveTarget(target)
	if err != nil {
		return err
	}
	if !field.writeable || field.Kind == KindAction {
		return &InvalidOperationError{Target: target, Detail: field.Kind.String() + " field is not writeable"}
	}
	if field.Scale == 0 {
		return &InvalidOperationError{Target: target, Detail: "field has zero scale"}
	}

	raw := (value - field.Offset) / field.Scale
	return cmds.Put(ctx, target, strconv.FormatFloat(raw, 'g', -1, 64))
}

// GetBlockInfo returns the controller's block types and how many
// instances of each exist. With descriptions enabled, one extra query
// per block type is issued.
func (c *Commands) GetBlockInfo(ctx context.Context, withDescriptions bool) (map[string]BlockInfo, error) {
	lines, err := c.GetMulti(ctx, "*BLOCKS")
	if err != nil {
		return nil, err
	}

	blocks := make(map[string]BlockInfo, len(lines))
	for _, line := range lines {
		name, numStr, found := strings.Cut(line, " ")
		if !found {
			return nil, &ctrl.ProtocolError{Command: "*BLOCKS?", Detail: "malformed block line " + strconv.Quote(line)}
		}
		num, err := strconv.Atoi(numStr)
		if err != nil {
			return nil, &ctrl.ProtocolError{Command: "*BLOCKS?", Detail: "bad block count in " + strconv.Quote(line), Err: err}
		}

		info := BlockInfo{Number: num}
		if withDescriptions {
			if info.Description, err = c.Get(ctx, "*DESC."+name); err != nil {
				return nil, err
			}
		}
		blocks[name] = info
	}
	return blocks, nil
}

// GetFieldInfo returns the field definitions of one block type, keyed by
// field name. With extended metadata, the per-kind follow-up queries
// fill in descriptions, labels, scaling and capture metadata; without,
// only the field list itself is fetched.
func (c *Commands) GetFieldInfo(ctx context.Context, block string, extended bool) (map[string]*FieldInfo, error) {
	lines, err := c.GetMulti(ctx, block+".*")
	if err != nil {
		return nil, err
	}

	fields := make(map[string]*FieldInfo, len(lines))
	for _, line := range lines {
		field, err := parseFieldLine(block, line)
		if err != nil {
			return nil, err
		}
		if extended {
			if err := fetchFieldMetadata(ctx, c, block, field); err != nil {
				return nil, err
			}
		}
		fields[field.Name] = field
	}
	return fields, nil
}

// Introspect builds the catalog by walking the controller's
// self-description: *BLOCKS, then each block's field list, descriptions
// and per-kind metadata. Blocks are walked concurrently, so handing in a
// pooled Client shortens the walk considerably on controllers with many
// block types.
func Introspect(ctx context.Context, exchanger Exchanger) (*Catalog, error) {
	cmds := NewCommands(exchanger)

	blocks, err := cmds.GetBlockInfo(ctx, false)
	if err != nil {
		return nil, err
	}

	catalog := &Catalog{blocks: make(map[string]*BlockType, len(blocks))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for name, info := range blocks {
		name, info := name, info
		g.Go(func() error {
			block, err := introspectBlock(gctx, cmds, name, info.Number)
			if err != nil {
				return err
			}
			mu.Lock()
			catalog.blocks[name] = block
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	catalog.order = make([]string, 0, len(catalog.blocks))
	for name := range catalog.blocks {
		catalog.order = append(catalog.order, name)
	}
	sort.Strings(catalog.order)
	return catalog, nil
}

// introspectBlock fills in one block type: description, field list and
// per-field metadata.
func introspectBlock(ctx context.Context, cmds *Commands, name string, num int) (*BlockType, error) {
	block := &BlockType{
		Name:   name,
		Number: num,
	}

	desc, err := cmds.Get(ctx, "*DESC."+name)
	if err != nil {
		return nil, err
	}
	block.Description = desc

	block.fields, err = cmds.GetFieldInfo(ctx, name, true)
	if err != nil {
		return nil, err
	}

	// Definition order is the index the controller reported
	block.order = make([]string, 0, len(block.fields))
	for fname := range block.fields {
		block.order = append(block.order, fname)
	}
	sort.Slice(block.order, func(i, j int) bool {
		return block.fields[block.order[i]].Index < block.fields[block.order[j]].Index
	})

	return block, nil
}

// parseFieldLine parses one "NAME index type [subtype]" line of a
// "BLOCK.*?" response and classifies its kind and access.
func parseFieldLine(blockName, line string) (*FieldInfo, error) {
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return nil, &ctrl.ProtocolError{
			Command: blockName + ".*?",
			Detail:  "malformed field line " + strconv.Quote(line),
		}
	}

	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, &ctrl.ProtocolError{
			Command: blockName + ".*?",
			Detail:  "bad field index in " + strconv.Quote(line),
			Err:     err,
		}
	}

	field := &FieldInfo{
		Name:  parts[0],
		Index: index,
		Type:  parts[2],
		Scale: 1,
	}
	if len(parts) > 3 {
		field.Subtype = parts[3]
	}

	if err := classifyField(field); err != nil {
		return nil, &ctrl.ProtocolError{Command: blockName + ".*?", Detail: err.Error()}
	}
	return field, nil
}

// classifyField maps the wire type/subtype pair onto the closed FieldKind
// set and the field's access.
func classifyField(f *FieldInfo) error {
	switch f.Type {
	case "param":
		f.readable, f.writeable = true, true
	case "read":
		f.readable = true
	case "write":
		f.writeable = true
	case "time":
		f.readable, f.writeable = true, true
		f.Kind = KindTime
		return nil
	case "bit_out", "pos_out", "ext_out":
		f.readable = true
	case "bit_mux", "pos_mux":
		f.readable, f.writeable = true, true
	case "table":
		f.readable, f.writeable = true, true
		f.Kind = KindTable
		return nil
	default:
		return fmt.Errorf("field %s has unknown type %q", f.Name, f.Type)
	}

	switch f.Type {
	case "bit_out", "bit_mux":
		f.Kind = KindBit
		return nil
	case "pos_out", "pos_mux":
		f.Kind = KindPosition
		return nil
	case "ext_out":
		f.Kind = KindExtra
		return nil
	}

	// param/read/write: kind is carried by the subtype
	switch f.Subtype {
	case "uint", "int", "bit", "lut", "position", "":
		f.Kind = KindParam
	case "scalar":
		f.Kind = KindScalar
	case "enum":
		f.Kind = KindEnum
	case "time":
		f.Kind = KindTime
	case "action":
		f.Kind = KindAction
		f.readable = false
	default:
		return fmt.Errorf("field %s has unknown subtype %q", f.Name, f.Subtype)
	}
	return nil
}

// fetchFieldMetadata issues the kind-specific follow-up queries, matching
// what the controller documents for each field type.
func fetchFieldMetadata(ctx context.Context, cmds *Commands, block string, f *FieldInfo) error {
	desc, err := cmds.Get(ctx, "*DESC."+block+"."+f.Name)
	if err != nil {
		return err
	}
	f.Description = desc

	instance := block + "1." + f.Name

	switch {
	case f.Kind == KindEnum:
		f.Labels, err = cmds.GetMulti(ctx, "*ENUMS."+block+"."+f.Name)
		return err

	case f.Kind == KindScalar:
		if f.Units, err = cmds.Get(ctx, block+"."+f.Name+".UNITS"); err != nil {
			return err
		}
		scale, err := cmds.Get(ctx, block+"."+f.Name+".SCALE")
		if err != nil {
			return err
		}
		if f.Scale, err = strconv.ParseFloat(scale, 64); err != nil {
			return metadataErr(block, f, "SCALE", scale, err)
		}
		offset, err := cmds.Get(ctx, block+"."+f.Name+".OFFSET")
		if err != nil {
			return err
		}
		if f.Offset, err = strconv.ParseFloat(offset, 64); err != nil {
			return metadataErr(block, f, "OFFSET", offset, err)
		}
		return nil

	case f.Kind == KindTime && f.Type == "time":
		if f.UnitsLabels, err = cmds.GetMulti(ctx, "*ENUMS."+block+"."+f.Name+".UNITS"); err != nil {
			return err
		}
		min, err := cmds.Get(ctx, instance+".MIN")
		if err != nil {
			return err
		}
		if f.Min, err = strconv.ParseFloat(min, 64); err != nil {
			return metadataErr(block, f, "MIN", min, err)
		}
		return nil

	case f.Kind == KindTime:
		f.UnitsLabels, err = cmds.GetMulti(ctx, "*ENUMS."+block+"."+f.Name+".UNITS")
		return err

	case f.Kind == KindParam && f.Subtype == "uint":
		max, err := cmds.Get(ctx, instance+".MAX")
		if err != nil {
			return err
		}
		if f.Max, err = strconv.ParseFloat(max, 64); err != nil {
			return metadataErr(block, f, "MAX", max, err)
		}
		return nil

	case f.Type == "bit_out":
		if f.CaptureWord, err = cmds.Get(ctx, instance+".CAPTURE_WORD"); err != nil {
			return err
		}
		offset, err := cmds.Get(ctx, instance+".OFFSET")
		if err != nil {
			return err
		}
		if f.WordOffset, err = strconv.Atoi(offset); err != nil {
			return metadataErr(block, f, "OFFSET", offset, err)
		}
		return nil

	case f.Type == "bit_mux":
		delay, err := cmds.Get(ctx, instance+".MAX_DELAY")
		if err != nil {
			return err
		}
		if f.MaxDelay, err = strconv.Atoi(delay); err != nil {
			return metadataErr(block, f, "MAX_DELAY", delay, err)
		}
		f.Labels, err = cmds.GetMulti(ctx, "*ENUMS."+block+"."+f.Name)
		return err

	case f.Type == "pos_mux":
		f.Labels, err = cmds.GetMulti(ctx, "*ENUMS."+block+"."+f.Name)
		return err

	case f.Type == "pos_out":
		f.CaptureLabels, err = cmds.GetMulti(ctx, "*ENUMS."+block+"."+f.Name+".CAPTURE")
		return err

	case f.Type == "ext_out" && f.Subtype == "bits":
		if f.Bits, err = cmds.GetMulti(ctx, block+"."+f.Name+".BITS"); err != nil {
			return err
		}
		f.CaptureLabels, err = cmds.GetMulti(ctx, "*ENUMS."+block+"."+f.Name+".CAPTURE")
		return err

	case f.Type == "ext_out":
		f.CaptureLabels, err = cmds.GetMulti(ctx, "*ENUMS."+block+"."+f.Name+".CAPTURE")
		return err
	}

	return nil
}

func metadataErr(block string, f *FieldInfo, attr, value string, err error) error {
	return &ctrl.ProtocolError{
		Command: block + "." + f.Name + "." + attr + "?",
		Detail:  "non-numeric " + attr + " " + strconv.Quote(value),
		Err:     err,
	}
}
