package blockctl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperture-controls/blockctl/ctrl"
)

// introspectionScript describes a small controller with two block types.
func introspectionScript() map[string]*ctrl.Response {
	return map[string]*ctrl.Response{
		"*BLOCKS?": multiResp("PCAP 1", "COUNTER 2"),

		"*DESC.PCAP?": valueResp("Position capture control"),
		"PCAP.*?":     multiResp("TRIG 0 param enum", "ARM 1 write action"),

		"*DESC.PCAP.TRIG?":  valueResp("Capture trigger source"),
		"*ENUMS.PCAP.TRIG?": multiResp("TTLIN1.VAL", "TTLIN2.VAL"),
		"*DESC.PCAP.ARM?":   valueResp("Arm the capture"),

		"*DESC.COUNTER?": valueResp("Up/down counter"),
		"COUNTER.*?":     multiResp("VALUE 0 param scalar", "OUT 1 pos_out", "STEP 2 param uint"),

		"*DESC.COUNTER.VALUE?":  valueResp("Current counter value"),
		"COUNTER.VALUE.UNITS?":  valueResp("mm"),
		"COUNTER.VALUE.SCALE?":  valueResp("2"),
		"COUNTER.VALUE.OFFSET?": valueResp("0"),

		"*DESC.COUNTER.OUT?":          valueResp("Counter output position"),
		"*ENUMS.COUNTER.OUT.CAPTURE?": multiResp("No", "Value", "Diff"),

		"*DESC.COUNTER.STEP?": valueResp("Step size"),
		"COUNTER1.STEP.MAX?":  valueResp("1000"),
	}
}

func introspectTestCatalog(t *testing.T) (*Catalog, *Commands) {
	t.Helper()
	script := introspectionScript()
	script["COUNTER1.VALUE?"] = valueResp("21")
	script["COUNTER1.VALUE=10.5"] = okResp()

	ex := newScriptExchanger(script)
	catalog, err := Introspect(context.Background(), ex)
	require.NoError(t, err)
	return catalog, NewCommands(ex)
}

func TestIntrospect(t *testing.T) {
	catalog, _ := introspectTestCatalog(t)

	assert.Equal(t, []string{"COUNTER", "PCAP"}, catalog.BlockNames())

	counter, ok := catalog.Block("COUNTER")
	require.True(t, ok)
	assert.Equal(t, 2, counter.Number)
	assert.Equal(t, "Up/down counter", counter.Description)
	assert.Equal(t, []string{"VALUE", "OUT", "STEP"}, counter.FieldNames())

	value, ok := counter.Field("VALUE")
	require.True(t, ok)
	assert.Equal(t, KindScalar, value.Kind)
	assert.Equal(t, "Current counter value", value.Description)
	assert.Equal(t, "mm", value.Units)
	assert.Equal(t, 2.0, value.Scale)
	assert.True(t, value.Readable())
	assert.True(t, value.Writeable())

	out, ok := counter.Field("OUT")
	require.True(t, ok)
	assert.Equal(t, KindPosition, out.Kind)
	assert.Equal(t, []string{"No", "Value", "Diff"}, out.CaptureLabels)
	assert.True(t, out.Readable())
	assert.False(t, out.Writeable())

	step, ok := counter.Field("STEP")
	require.True(t, ok)
	assert.Equal(t, KindParam, step.Kind)
	assert.Equal(t, 1000.0, step.Max)

	pcap, ok := catalog.Block("PCAP")
	require.True(t, ok)

	trig, ok := pcap.Field("TRIG")
	require.True(t, ok)
	assert.Equal(t, KindEnum, trig.Kind)
	assert.Equal(t, []string{"TTLIN1.VAL", "TTLIN2.VAL"}, trig.Labels)

	arm, ok := pcap.Field("ARM")
	require.True(t, ok)
	assert.Equal(t, KindAction, arm.Kind)
	assert.False(t, arm.Readable())
	assert.True(t, arm.Writeable())
}

func TestGetBlockInfo(t *testing.T) {
	cmds := NewCommands(newScriptExchanger(introspectionScript()))

	blocks, err := cmds.GetBlockInfo(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, map[string]BlockInfo{
		"PCAP":    {Number: 1},
		"COUNTER": {Number: 2},
	}, blocks)

	blocks, err = cmds.GetBlockInfo(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "Position capture control", blocks["PCAP"].Description)
	assert.Equal(t, "Up/down counter", blocks["COUNTER"].Description)
}

func TestGetBlockInfoMalformed(t *testing.T) {
	script := introspectionScript()
	script["*BLOCKS?"] = multiResp("PCAP one")
	cmds := NewCommands(newScriptExchanger(script))

	_, err := cmds.GetBlockInfo(context.Background(), false)
	var perr *ctrl.ProtocolError
	require.True(t, errors.As(err, &perr))
}

func TestGetFieldInfo(t *testing.T) {
	cmds := NewCommands(newScriptExchanger(introspectionScript()))

	// Without extended metadata only the field list itself is parsed
	fields, err := cmds.GetFieldInfo(context.Background(), "COUNTER", false)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, KindScalar, fields["VALUE"].Kind)
	assert.Empty(t, fields["VALUE"].Description)

	fields, err = cmds.GetFieldInfo(context.Background(), "COUNTER", true)
	require.NoError(t, err)
	assert.Equal(t, "Current counter value", fields["VALUE"].Description)
	assert.Equal(t, "mm", fields["VALUE"].Units)
	assert.Equal(t, []string{"No", "Value", "Diff"}, fields["OUT"].CaptureLabels)
}

func TestIntrospectUnknownFieldType(t *testing.T) {
	script := introspectionScript()
	script["PCAP.*?"] = multiResp("TRIG 0 wacky")

	_, err := Introspect(context.Background(), newScriptExchanger(script))
	require.Error(t, err)

	var perr *ctrl.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Detail, "wacky")
}

func TestIntrospectMalformedFieldLine(t *testing.T) {
	script := introspectionScript()
	script["COUNTER.*?"] = multiResp("BROKEN 0")

	_, err := Introspect(context.Background(), newScriptExchanger(script))
	require.Error(t, err)

	var perr *ctrl.ProtocolError
	require.True(t, errors.As(err, &perr))
}

func TestResolveTarget(t *testing.T) {
	catalog, _ := introspectTestCatalog(t)

	// Numbered instance
	block, field, err := catalog.ResolveTarget("COUNTER1.VALUE")
	require.NoError(t, err)
	assert.Equal(t, "COUNTER", block.Name)
	assert.Equal(t, "VALUE", field.Name)

	// Attribute-style target without instance number
	_, field, err = catalog.ResolveTarget("PCAP.TRIG")
	require.NoError(t, err)
	assert.Equal(t, "TRIG", field.Name)

	// Sub-attribute targets resolve to the field
	_, field, err = catalog.ResolveTarget("COUNTER1.VALUE.UNITS")
	require.NoError(t, err)
	assert.Equal(t, "VALUE", field.Name)

	var ierr *InvalidOperationError
	_, _, err = catalog.ResolveTarget("NOPE1.FIELD")
	require.True(t, errors.As(err, &ierr))

	_, _, err = catalog.ResolveTarget("COUNTER1.NOPE")
	require.True(t, errors.As(err, &ierr))

	_, _, err = catalog.ResolveTarget("NODOT")
	require.True(t, errors.As(err, &ierr))
	assert.False(t, ShouldCloseConnection(err))
}

func TestGetScaled(t *testing.T) {
	catalog, cmds := introspectTestCatalog(t)

	// raw 21 with scale 2, offset 0
	value, err := catalog.GetScaled(context.Background(), cmds, "COUNTER1.VALUE")
	require.NoError(t, err)
	assert.Equal(t, 42.0, value)
}

func TestGetScaledNotReadable(t *testing.T) {
	catalog, cmds := introspectTestCatalog(t)

	_, err := catalog.GetScaled(context.Background(), cmds, "PCAP.ARM")
	var ierr *InvalidOperationError
	require.True(t, errors.As(err, &ierr))
	assert.Contains(t, ierr.Detail, "not readable")
}

func TestGetScaledNonNumeric(t *testing.T) {
	script := introspectionScript()
	script["COUNTER1.VALUE?"] = valueResp("not-a-number")
	ex := newScriptExchanger(script)

	catalog, err := Introspect(context.Background(), ex)
	require.NoError(t, err)

	_, err = catalog.GetScaled(context.Background(), NewCommands(ex), "COUNTER1.VALUE")
	var perr *ctrl.ProtocolError
	require.True(t, errors.As(err, &perr))
}

func TestPutScaled(t *testing.T) {
	catalog, cmds := introspectTestCatalog(t)

	// eng 21.0 -> raw (21-0)/2 = 10.5
	err := catalog.PutScaled(context.Background(), cmds, "COUNTER1.VALUE", 21.0)
	require.NoError(t, err)
}

func TestPutScaledNotWriteable(t *testing.T) {
	catalog, cmds := introspectTestCatalog(t)

	var ierr *InvalidOperationError

	err := catalog.PutScaled(context.Background(), cmds, "COUNTER1.OUT", 1.0)
	require.True(t, errors.As(err, &ierr))

	// Action fields are writeable on the wire but have no value to scale
	err = catalog.PutScaled(context.Background(), cmds, "PCAP.ARM", 1.0)
	require.True(t, errors.As(err, &ierr))
}
