package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pithecene-io/sluice/failure"
)

// Date is a calendar date. A zero day, month and year decodes as blank.
type Date struct {
	Day   uint8
	Month uint8
	Year  uint16
	Blank bool
}

func (Date) DataType() DataType { return DataTypeDate }
func (d Date) IsBlank() bool     { return d.Blank }

func (d Date) validate() error {
	if d.Day > 31 || d.Month > 12 {
		return failure.Usage("encode date", "invalid date %d-%d-%d", d.Year, d.Month, d.Day)
	}
	return nil
}

func (d Date) appendValue(dst []byte, _ Version) ([]byte, error) {
	if err := d.validate(); err != nil {
		return dst, err
	}
	dst = append(dst, d.Day, d.Month)
	return binary.BigEndian.AppendUint16(dst, d.Year), nil
}

func (d Date) String() string {
	if d.Blank {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// DecodeDate decodes a 4 byte date.
func DecodeDate(b []byte) (Date, error) {
	switch len(b) {
	case 0:
		return Date{Blank: true}, nil
	case 4:
	default:
		return Date{}, failure.Decode("decode date", "length %d, want 4", len(b))
	}
	d := Date{Day: b[0], Month: b[1], Year: binary.BigEndian.Uint16(b[2:])}
	if d.Day == 0 && d.Month == 0 && d.Year == 0 {
		return Date{Blank: true}, nil
	}
	return d, nil
}

// Time is a time of day with optional sub-second precision.
type Time struct {
	Hour        uint8
	Minute      uint8
	Second      uint8
	Millisecond uint16
	Microsecond uint16
	Nanosecond  uint16
	Blank       bool
}

func (Time) DataType() DataType { return DataTypeTime }
func (t Time) IsBlank() bool     { return t.Blank }

// wireLen returns the shortest encoding that keeps t's precision.
func (t Time) wireLen() int {
	switch {
	case t.Nanosecond != 0:
		return 8
	case t.Microsecond != 0:
		return 7
	case t.Millisecond != 0:
		return 5
	}
	return 3
}

func (t Time) validate(v Version) error {
	if t.Hour > 23 || t.Minute > 59 || t.Second > 60 || t.Millisecond > 999 ||
		t.Microsecond > 999 || t.Nanosecond > 999 {
		return failure.Usage("encode time", "invalid time %s", t)
	}
	if t.wireLen() > 5 && !v.supportsFineTime() {
		return failure.Usage("encode time", "sub-millisecond precision needs wire version %d.1", v.Major)
	}
	return nil
}

func (t Time) appendValue(dst []byte, v Version) ([]byte, error) {
	if err := t.validate(v); err != nil {
		return dst, err
	}
	return t.appendTime(dst), nil
}

func (t Time) appendTime(dst []byte) []byte {
	dst = append(dst, t.Hour, t.Minute, t.Second)
	n := t.wireLen()
	if n >= 5 {
		dst = binary.BigEndian.AppendUint16(dst, t.Millisecond)
	}
	switch n {
	case 7:
		dst = binary.BigEndian.AppendUint16(dst, t.Microsecond)
	case 8:
		packed := t.Microsecond&0x07FF | (t.Nanosecond>>8)<<11
		dst = binary.BigEndian.AppendUint16(dst, packed)
		dst = append(dst, uint8(t.Nanosecond))
	}
	return dst
}

func (t Time) String() string {
	if t.Blank {
		return ""
	}
	s := fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	switch t.wireLen() {
	case 5:
		s += fmt.Sprintf(".%03d", t.Millisecond)
	case 7:
		s += fmt.Sprintf(".%03d%03d", t.Millisecond, t.Microsecond)
	case 8:
		s += fmt.Sprintf(".%03d%03d%03d", t.Millisecond, t.Microsecond, t.Nanosecond)
	}
	return s
}

// DecodeTime decodes a 3, 5, 7 or 8 byte time. The 7 and 8 byte forms
// are only legal from wire version x.1 on.
func DecodeTime(b []byte, v Version) (Time, error) {
	if len(b) == 0 {
		return Time{Blank: true}, nil
	}
	return decodeTime(b, v)
}

func decodeTime(b []byte, v Version) (Time, error) {
	switch len(b) {
	case 3, 5:
	case 7, 8:
		if !v.supportsFineTime() {
			return Time{}, failure.Decode("decode time", "length %d not valid for wire version %s", len(b), v)
		}
	default:
		return Time{}, failure.Decode("decode time", "invalid length %d", len(b))
	}
	t := Time{Hour: b[0], Minute: b[1], Second: b[2]}
	if len(b) == 3 && t.Hour == 0xFF && t.Minute == 0xFF && t.Second == 0xFF {
		return Time{Blank: true}, nil
	}
	if len(b) >= 5 {
		t.Millisecond = binary.BigEndian.Uint16(b[3:])
	}
	switch len(b) {
	case 7:
		t.Microsecond = binary.BigEndian.Uint16(b[5:])
	case 8:
		packed := binary.BigEndian.Uint16(b[5:])
		t.Microsecond = packed & 0x07FF
		t.Nanosecond = (packed>>11)<<8 | uint16(b[7])
	}
	return t, nil
}

// DateTime is a Date followed by a Time.
type DateTime struct {
	Date Date
	Time Time
}

func (DateTime) DataType() DataType { return DataTypeDateTime }
func (dt DateTime) IsBlank() bool    { return dt.Date.Blank && dt.Time.Blank }

func (dt DateTime) appendValue(dst []byte, v Version) ([]byte, error) {
	d := dt.Date
	if d.Blank {
		d = Date{}
	}
	if err := d.validate(); err != nil {
		return dst, err
	}
	if err := dt.Time.validate(v); err != nil {
		return dst, err
	}
	dst = append(dst, d.Day, d.Month)
	dst = binary.BigEndian.AppendUint16(dst, d.Year)
	tm := dt.Time
	if tm.Blank {
		tm = Time{}
	}
	return tm.appendTime(dst), nil
}

func (dt DateTime) String() string {
	if dt.IsBlank() {
		return ""
	}
	return dt.Date.String() + "T" + dt.Time.String()
}

// DecodeDateTime decodes a 7, 9, 11 or 12 byte date-time.
func DecodeDateTime(b []byte, v Version) (DateTime, error) {
	if len(b) == 0 {
		return DateTime{Date: Date{Blank: true}, Time: Time{Blank: true}}, nil
	}
	if len(b) < 7 {
		return DateTime{}, failure.Decode("decode datetime", "invalid length %d", len(b))
	}
	d, err := DecodeDate(b[:4])
	if err != nil {
		return DateTime{}, err
	}
	t, err := decodeTime(b[4:], v)
	if err != nil {
		return DateTime{}, err
	}
	return DateTime{Date: d, Time: t}, nil
}

// DateTimeOf converts a time.Time (in UTC) to a DateTime with nanosecond precision.
func DateTimeOf(t time.Time) DateTime {
	t = t.UTC()
	ns := t.Nanosecond()
	return DateTime{
		Date: Date{Day: uint8(t.Day()), Month: uint8(t.Month()), Year: uint16(t.Year())},
		Time: Time{
			Hour:        uint8(t.Hour()),
			Minute:      uint8(t.Minute()),
			Second:      uint8(t.Second()),
			Millisecond: uint16(ns / 1e6),
			Microsecond: uint16(ns / 1e3 % 1000),
			Nanosecond:  uint16(ns % 1000),
		},
	}
}

// UTC returns dt as a time.Time in UTC.
func (dt DateTime) UTC() time.Time {
	tm := dt.Time
	ns := int(tm.Millisecond)*1e6 + int(tm.Microsecond)*1e3 + int(tm.Nanosecond)
	return time.Date(int(dt.Date.Year), time.Month(dt.Date.Month), int(dt.Date.Day),
		int(tm.Hour), int(tm.Minute), int(tm.Second), ns, time.UTC)
}
