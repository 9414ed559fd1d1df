package capture

import (
	"encoding/binary"
	"math"
)

// FieldType is the wire type of one captured field, as declared by the
// stream header. The set is closed: a header declaring anything else is
// rejected rather than passed through as untyped text.
type FieldType int

const (
	TypeInt32 FieldType = iota
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat
	TypeDouble
)

var typeNames = map[FieldType]string{
	TypeInt32:  "int32",
	TypeUint32: "uint32",
	TypeInt64:  "int64",
	TypeUint64: "uint64",
	TypeFloat:  "float",
	TypeDouble: "double",
}

var typesByName = map[string]FieldType{
	"int32":  TypeInt32,
	"uint32": TypeUint32,
	"int64":  TypeInt64,
	"uint64": TypeUint64,
	"float":  TypeFloat,
	"double": TypeDouble,
}

func (t FieldType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "invalid"
}

// Width returns the number of bytes one value of this type occupies in a
// sample row.
func (t FieldType) Width() int {
	switch t {
	case TypeInt32, TypeUint32, TypeFloat:
		return 4
	case TypeInt64, TypeUint64, TypeDouble:
		return 8
	default:
		return 0
	}
}

// ParseFieldType resolves a header type attribute.
func ParseFieldType(name string) (FieldType, bool) {
	t, ok := typesByName[name]
	return t, ok
}

// Value is one decoded field value, tagged by its wire type.
type Value struct {
	Type FieldType
	bits uint64
}

// decodeValue reads one value of type t from the front of row.
// row must hold at least t.Width() bytes; the decoder guarantees this.
func decodeValue(t FieldType, order binary.ByteOrder, row []byte) Value {
	var bits uint64
	if t.Width() == 4 {
		bits = uint64(order.Uint32(row))
	} else {
		bits = order.Uint64(row)
	}
	return Value{Type: t, bits: bits}
}

// Uint returns the value as an unsigned integer.
// Only meaningful for uint32/uint64 fields.
func (v Value) Uint() uint64 {
	if v.Type == TypeUint32 {
		return v.bits & 0xffffffff
	}
	return v.bits
}

// Int returns the value as a signed integer, sign-extending 32-bit types.
func (v Value) Int() int64 {
	if v.Type == TypeInt32 {
		return int64(int32(uint32(v.bits)))
	}
	return int64(v.bits)
}

// Float returns the raw numeric value as a float64, converting integer
// types. No scale or offset is applied; see Record.Scaled for that.
func (v Value) Float() float64 {
	switch v.Type {
	case TypeFloat:
		return float64(math.Float32frombits(uint32(v.bits)))
	case TypeDouble:
		return math.Float64frombits(v.bits)
	case TypeInt32, TypeInt64:
		return float64(v.Int())
	default:
		return float64(v.Uint())
	}
}
