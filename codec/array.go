package codec

import (
	"encoding/binary"
	"math"

	"github.com/pithecene-io/sluice/failure"
)

// Array is a list of primitives of one type. ItemLength 0 means every item
// carries its own length; otherwise every item is exactly ItemLength bytes.
type Array struct {
	ItemType   DataType
	ItemLength int
	Items      []Primitive
	Blank      bool
}

func (Array) DataType() DataType { return DataTypeArray }
func (a Array) IsBlank() bool     { return a.Blank }

// validWidth reports whether a fixed item width is legal for t.
func validWidth(t DataType, w int) bool {
	switch t {
	case DataTypeInt, DataTypeUInt:
		return w == 1 || w == 2 || w == 4 || w == 8
	case DataTypeEnum:
		return w == 1 || w == 2
	case DataTypeFloat:
		return w == 4
	case DataTypeDouble:
		return w == 8
	case DataTypeDate:
		return w == 4
	case DataTypeTime:
		return w == 3 || w == 5
	case DataTypeDateTime:
		return w == 7 || w == 9
	case DataTypeBuffer, DataTypeAsciiString, DataTypeUtf8String, DataTypeRmtesString:
		return w > 0
	}
	return false
}

func (a Array) appendValue(dst []byte, v Version) ([]byte, error) {
	const op = "encode array"
	if !a.ItemType.IsPrimitive() || a.ItemType == DataTypeArray {
		return dst, failure.Usage(op, "invalid item type %s", a.ItemType)
	}
	if a.ItemLength > 0 && !validWidth(a.ItemType, a.ItemLength) {
		return dst, failure.Usage(op, "item length %d invalid for %s", a.ItemLength, a.ItemType)
	}
	if a.ItemLength > 0xFF || len(a.Items) > maxU16 {
		return dst, failure.Usage(op, "array too large")
	}
	dst = append(dst, uint8(a.ItemType), uint8(a.ItemLength))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(a.Items)))

	for i, item := range a.Items {
		if item.DataType() != a.ItemType && !(item.IsBlank() && a.ItemLength == 0) {
			return dst, failure.Usage(op, "item %d is %s, want %s", i, item.DataType(), a.ItemType)
		}
		if a.ItemLength == 0 {
			var err error
			start := len(dst)
			dst = append(dst, 0)
			if !item.IsBlank() {
				if dst, err = item.appendValue(dst, v); err != nil {
					return dst, err
				}
			}
			dst, err = fixupLength(dst, start)
			if err != nil {
				return dst, err
			}
			continue
		}
		var err error
		if dst, err = appendFixed(dst, item, a.ItemLength, v); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

// fixupLength rewrites the one byte placeholder at start as a u16ob length
// of everything after it.
func fixupLength(dst []byte, start int) ([]byte, error) {
	n := len(dst) - start - 1
	if n < u16obExt {
		dst[start] = uint8(n)
		return dst, nil
	}
	if n > maxU16 {
		return dst, failure.Usage("encode array", "item length %d exceeds %d", n, maxU16)
	}
	dst = append(dst, 0, 0)
	copy(dst[start+3:], dst[start+1:len(dst)-2])
	dst[start] = u16obExt
	binary.BigEndian.PutUint16(dst[start+1:], uint16(n))
	return dst, nil
}

func appendFixed(dst []byte, item Primitive, w int, v Version) ([]byte, error) {
	const op = "encode array"
	switch p := item.(type) {
	case UInt:
		if w < 8 && p.Value>>(8*uint(w)) != 0 {
			return dst, failure.Usage(op, "uint %d does not fit %d bytes", p.Value, w)
		}
		for i := w - 1; i >= 0; i-- {
			dst = append(dst, byte(p.Value>>(8*uint(i))))
		}
		return dst, nil
	case Int:
		if w < 8 {
			lo := int64(-1) << (8*uint(w) - 1)
			if p.Value < lo || p.Value > -lo-1 {
				return dst, failure.Usage(op, "int %d does not fit %d bytes", p.Value, w)
			}
		}
		for i := w - 1; i >= 0; i-- {
			dst = append(dst, byte(p.Value>>(8*uint(i))))
		}
		return dst, nil
	case Enum:
		if w == 1 {
			if p.Value > 0xFF {
				return dst, failure.Usage(op, "enum %d does not fit 1 byte", p.Value)
			}
			return append(dst, uint8(p.Value)), nil
		}
		return binary.BigEndian.AppendUint16(dst, p.Value), nil
	case Float:
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(p.Value)), nil
	case Double:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(p.Value)), nil
	case Date:
		return p.appendValue(dst, v)
	case Time:
		if p.wireLen() > w {
			return dst, failure.Usage(op, "time %s does not fit %d bytes", p, w)
		}
		dst = append(dst, p.Hour, p.Minute, p.Second)
		if w == 5 {
			dst = binary.BigEndian.AppendUint16(dst, p.Millisecond)
		}
		return dst, nil
	case DateTime:
		if p.Time.wireLen() > w-4 {
			return dst, failure.Usage(op, "datetime %s does not fit %d bytes", p, w)
		}
		dst = append(dst, p.Date.Day, p.Date.Month)
		dst = binary.BigEndian.AppendUint16(dst, p.Date.Year)
		dst = append(dst, p.Time.Hour, p.Time.Minute, p.Time.Second)
		if w == 9 {
			dst = binary.BigEndian.AppendUint16(dst, p.Time.Millisecond)
		}
		return dst, nil
	case Buffer:
		if len(p.Data) != w {
			return dst, failure.Usage(op, "buffer length %d, want %d", len(p.Data), w)
		}
		return append(dst, p.Data...), nil
	}
	return dst, failure.Usage(op, "type %s cannot be fixed width", item.DataType())
}

// DecodeArray decodes an array. Buffer items borrow from b.
func DecodeArray(b []byte, v Version) (Array, error) {
	if len(b) == 0 {
		return Array{Blank: true}, nil
	}
	r := NewReader(b, "decode array")
	a := Array{
		ItemType:   DataType(r.U8()),
		ItemLength: int(r.U8()),
	}
	count := int(r.U16())
	if err := r.Err(); err != nil {
		return Array{}, err
	}
	if !a.ItemType.IsPrimitive() || a.ItemType == DataTypeArray {
		return Array{}, failure.Decode("decode array", "invalid item type %d", a.ItemType)
	}
	if a.ItemLength > 0 && !validWidth(a.ItemType, a.ItemLength) {
		return Array{}, failure.Decode("decode array", "item length %d invalid for %s", a.ItemLength, a.ItemType)
	}
	// every item takes at least one byte, so a count larger than the rest is malformed
	if count > r.Remaining() {
		return Array{}, failure.Decode("decode array", "count %d exceeds %d remaining bytes", count, r.Remaining())
	}
	a.Items = make([]Primitive, 0, count)
	for range count {
		var raw []byte
		if a.ItemLength == 0 {
			raw = r.Buffer16()
		} else {
			raw = r.Bytes(a.ItemLength)
		}
		if err := r.Err(); err != nil {
			return Array{}, err
		}
		item, err := decodeArrayItem(a.ItemType, a.ItemLength, raw, v)
		if err != nil {
			return Array{}, err
		}
		a.Items = append(a.Items, item)
	}
	if r.Remaining() != 0 {
		return Array{}, failure.Decode("decode array", "%d trailing bytes", r.Remaining())
	}
	return a, nil
}

func decodeArrayItem(t DataType, w int, raw []byte, v Version) (Primitive, error) {
	if w > 0 && t == DataTypeInt {
		return Int{Value: readInt(raw)}, nil
	}
	if w > 0 && t == DataTypeUInt {
		return UInt{Value: readUint(raw)}, nil
	}
	return DecodePrimitive(t, raw, v)
}
