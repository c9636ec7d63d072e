package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/pithecene-io/sluice/failure"
)

// Primitive is a value that can be written as an entry payload, a map key
// or an array item. Every primitive has a blank state, written as an empty
// value and distinct from zero.
type Primitive interface {
	DataType() DataType
	IsBlank() bool
	appendValue(dst []byte, v Version) ([]byte, error)
}

// UInt is an unsigned integer of up to 8 bytes.
type UInt struct {
	Value uint64
	Blank bool
}

func (UInt) DataType() DataType { return DataTypeUInt }
func (u UInt) IsBlank() bool     { return u.Blank }

func (u UInt) appendValue(dst []byte, _ Version) ([]byte, error) {
	return appendUint(dst, u.Value), nil
}

func (u UInt) String() string {
	if u.Blank {
		return ""
	}
	return fmt.Sprintf("%d", u.Value)
}

// Int is a signed integer of up to 8 bytes.
type Int struct {
	Value int64
	Blank bool
}

func (Int) DataType() DataType { return DataTypeInt }
func (i Int) IsBlank() bool     { return i.Blank }

func (i Int) appendValue(dst []byte, _ Version) ([]byte, error) {
	return appendInt(dst, i.Value), nil
}

func (i Int) String() string {
	if i.Blank {
		return ""
	}
	return fmt.Sprintf("%d", i.Value)
}

// Float is a 4 byte IEEE-754 value.
type Float struct {
	Value float32
	Blank bool
}

func (Float) DataType() DataType { return DataTypeFloat }
func (f Float) IsBlank() bool     { return f.Blank }

func (f Float) appendValue(dst []byte, _ Version) ([]byte, error) {
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(f.Value)), nil
}

func (f Float) String() string {
	if f.Blank {
		return ""
	}
	return strconv.FormatFloat(float64(f.Value), 'g', -1, 32)
}

// Double is an 8 byte IEEE-754 value.
type Double struct {
	Value float64
	Blank bool
}

func (Double) DataType() DataType { return DataTypeDouble }
func (d Double) IsBlank() bool     { return d.Blank }

func (d Double) appendValue(dst []byte, _ Version) ([]byte, error) {
	return binary.BigEndian.AppendUint64(dst, math.Float64bits(d.Value)), nil
}

func (d Double) String() string {
	if d.Blank {
		return ""
	}
	return strconv.FormatFloat(d.Value, 'g', -1, 64)
}

// Enum is a 2 byte enumerated code resolved through the dictionary.
type Enum struct {
	Value uint16
	Blank bool
}

func (Enum) DataType() DataType { return DataTypeEnum }
func (e Enum) IsBlank() bool     { return e.Blank }

func (e Enum) appendValue(dst []byte, _ Version) ([]byte, error) {
	if e.Value <= 0xFF {
		return append(dst, uint8(e.Value)), nil
	}
	return binary.BigEndian.AppendUint16(dst, e.Value), nil
}

func (e Enum) String() string {
	if e.Blank {
		return ""
	}
	return strconv.FormatUint(uint64(e.Value), 10)
}

// Buffer is raw or textual bytes. Type selects Buffer, AsciiString,
// Utf8String or RmtesString; the zero Type means Buffer. An empty Buffer
// is blank.
type Buffer struct {
	Type DataType
	Data []byte
}

// ASCII returns an AsciiString buffer.
func ASCII(s string) Buffer { return Buffer{Type: DataTypeAsciiString, Data: []byte(s)} }

// UTF8 returns a Utf8String buffer.
func UTF8(s string) Buffer { return Buffer{Type: DataTypeUtf8String, Data: []byte(s)} }

// RMTES returns an RmtesString buffer.
func RMTES(b []byte) Buffer { return Buffer{Type: DataTypeRmtesString, Data: b} }

func (b Buffer) DataType() DataType {
	if b.Type == DataTypeUnknown {
		return DataTypeBuffer
	}
	return b.Type
}

func (b Buffer) IsBlank() bool { return len(b.Data) == 0 }

func (b Buffer) appendValue(dst []byte, _ Version) ([]byte, error) {
	return append(dst, b.Data...), nil
}

func (b Buffer) String() string { return string(b.Data) }

// Blank is a blank value of any primitive type.
type Blank struct {
	Type DataType
}

func (b Blank) DataType() DataType { return b.Type }
func (Blank) IsBlank() bool         { return true }

func (Blank) appendValue(dst []byte, _ Version) ([]byte, error) { return dst, nil }

// appendUint appends the minimal big-endian encoding, at least one byte.
func appendUint(dst []byte, v uint64) []byte {
	n := 1
	for x := v >> 8; x != 0; x >>= 8 {
		n++
	}
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}

// appendInt appends the minimal two's complement encoding, at least one byte.
func appendInt(dst []byte, v int64) []byte {
	n := 1
	for n < 8 {
		lo := int64(-1) << (8*uint(n) - 1)
		hi := -lo - 1
		if v >= lo && v <= hi {
			break
		}
		n++
	}
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func readInt(b []byte) int64 {
	var v int64
	if len(b) > 0 && b[0]&0x80 != 0 {
		v = -1
	}
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// DecodeUInt decodes an unsigned integer value.
func DecodeUInt(b []byte) (UInt, error) {
	switch {
	case len(b) == 0:
		return UInt{Blank: true}, nil
	case len(b) > 8:
		return UInt{}, failure.Decode("decode uint", "length %d exceeds 8", len(b))
	}
	return UInt{Value: readUint(b)}, nil
}

// DecodeInt decodes a signed integer value.
func DecodeInt(b []byte) (Int, error) {
	switch {
	case len(b) == 0:
		return Int{Blank: true}, nil
	case len(b) > 8:
		return Int{}, failure.Decode("decode int", "length %d exceeds 8", len(b))
	}
	return Int{Value: readInt(b)}, nil
}

// DecodeFloat decodes a 4 byte float.
func DecodeFloat(b []byte) (Float, error) {
	switch len(b) {
	case 0:
		return Float{Blank: true}, nil
	case 4:
		return Float{Value: math.Float32frombits(binary.BigEndian.Uint32(b))}, nil
	}
	return Float{}, failure.Decode("decode float", "length %d, want 4", len(b))
}

// DecodeDouble decodes an 8 byte double.
func DecodeDouble(b []byte) (Double, error) {
	switch len(b) {
	case 0:
		return Double{Blank: true}, nil
	case 8:
		return Double{Value: math.Float64frombits(binary.BigEndian.Uint64(b))}, nil
	}
	return Double{}, failure.Decode("decode double", "length %d, want 8", len(b))
}

// DecodeEnum decodes a 1 or 2 byte enum.
func DecodeEnum(b []byte) (Enum, error) {
	switch len(b) {
	case 0:
		return Enum{Blank: true}, nil
	case 1, 2:
		return Enum{Value: uint16(readUint(b))}, nil
	}
	return Enum{}, failure.Decode("decode enum", "length %d exceeds 2", len(b))
}

// DecodeBuffer wraps b as a buffer of type t without copying.
func DecodeBuffer(t DataType, b []byte) Buffer {
	return Buffer{Type: t, Data: b}
}

// DecodePrimitive decodes b as a primitive of type t.
func DecodePrimitive(t DataType, b []byte, v Version) (Primitive, error) {
	switch t {
	case DataTypeUInt:
		return DecodeUInt(b)
	case DataTypeInt:
		return DecodeInt(b)
	case DataTypeFloat:
		return DecodeFloat(b)
	case DataTypeDouble:
		return DecodeDouble(b)
	case DataTypeReal:
		return DecodeReal(b)
	case DataTypeDate:
		return DecodeDate(b)
	case DataTypeTime:
		return DecodeTime(b, v)
	case DataTypeDateTime:
		return DecodeDateTime(b, v)
	case DataTypeQos:
		return DecodeQos(b)
	case DataTypeState:
		return DecodeState(b)
	case DataTypeEnum:
		return DecodeEnum(b)
	case DataTypeArray:
		return DecodeArray(b, v)
	case DataTypeBuffer, DataTypeAsciiString, DataTypeUtf8String, DataTypeRmtesString:
		return DecodeBuffer(t, b), nil
	}
	return nil, failure.Decode("decode primitive", "unsupported type %s", t)
}

// EncodePrimitive returns the value bytes of p, without a length prefix.
func EncodePrimitive(p Primitive, v Version) ([]byte, error) {
	if p.IsBlank() {
		return nil, nil
	}
	return p.appendValue(nil, v)
}
