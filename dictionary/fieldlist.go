package dictionary

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
)

// Value is one formatted field of a field list.
type Value struct {
	FieldID int16  `json:"fid" yaml:"fid"`
	Acronym string `json:"acronym" yaml:"acronym"`
	Text    string `json:"value" yaml:"value"`
}

// Values is a formatted field list.
type Values []Value

// String renders the fields as space separated ACRONYM=value pairs.
func (vs Values) String() string {
	var b strings.Builder
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(' ')
		}
		name := v.Acronym
		if name == "" {
			name = strconv.Itoa(int(v.FieldID))
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(v.Text)
	}
	return b.String()
}

// FieldValue pairs a field id with the primitive to encode.
type FieldValue struct {
	FieldID int16
	Value   codec.Primitive
}

// FormatFieldList decodes a FieldList payload and formats every entry.
// Fields the dictionary does not define are kept with an empty acronym
// and their raw length.
func (d *Dictionary) FormatFieldList(payload []byte, v codec.Version) (Values, error) {
	var out Values
	err := RangeFieldList(payload, v, func(fe *codec.FieldEntry) error {
		val, err := d.FormatEntry(fe, v)
		if err != nil {
			return err
		}
		out = append(out, val)
		return nil
	})
	return out, err
}

// FormatEntry formats one field entry. An undefined field id is not an
// error.
func (d *Dictionary) FormatEntry(fe *codec.FieldEntry, v codec.Version) (Value, error) {
	acronym, text, err := d.Format(fe, v)
	switch {
	case errors.Is(err, ErrUnknownField):
		text = fmt.Sprintf("<%d bytes>", len(fe.EncodedData))
	case err != nil:
		return Value{}, err
	}
	return Value{FieldID: fe.FieldID, Acronym: acronym, Text: text}, nil
}

// RangeFieldList calls fn for each entry of a FieldList payload in wire
// order. The entry borrows payload and is only valid during fn.
func RangeFieldList(payload []byte, v codec.Version, fn func(fe *codec.FieldEntry) error) error {
	it := codec.NewDecodeIterator(payload)
	it.SetVersion(v)
	var fl codec.FieldList
	if err := fl.Decode(it); err != nil {
		return err
	}
	for {
		var fe codec.FieldEntry
		err := fl.DecodeEntry(it, &fe)
		if errors.Is(err, codec.ErrEndOfContainer) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(&fe); err != nil {
			return err
		}
	}
}

// EncodeFieldList encodes fields as a standard-data FieldList, growing
// the buffer as needed.
func EncodeFieldList(fields []FieldValue, v codec.Version) ([]byte, error) {
	size := 64 + 32*len(fields)
	for {
		b, err := encodeFieldList(make([]byte, size), fields, v)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, failure.ErrBufferTooSmall) || size >= 1<<24 {
			return nil, err
		}
		size *= 2
	}
}

func encodeFieldList(buf []byte, fields []FieldValue, v codec.Version) ([]byte, error) {
	it := codec.NewEncodeIterator(buf)
	it.SetVersion(v)
	fl := codec.FieldList{Flags: codec.FieldListHasStandardData}
	if err := fl.EncodeInit(it); err != nil {
		return nil, err
	}
	for _, f := range fields {
		fe := codec.FieldEntry{FieldID: f.FieldID}
		if err := fe.Encode(it, f.Value); err != nil {
			_ = fl.EncodeComplete(it, false)
			return nil, err
		}
	}
	if err := fl.EncodeComplete(it, true); err != nil {
		return nil, err
	}
	return append([]byte(nil), it.Bytes()...), nil
}
