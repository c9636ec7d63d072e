package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pithecene-io/sluice/failure"
)

func TestUInt_MinimalEncoding(t *testing.T) {
	tests := []struct {
		value uint64
		want  []byte
	}{
		{0, []byte{0x00}},
		{255, []byte{0xFF}},
		{256, []byte{0x01, 0x00}},
		{0xFFFFFF, []byte{0xFF, 0xFF, 0xFF}},
		{math.MaxUint64, bytes.Repeat([]byte{0xFF}, 8)},
	}
	for _, tt := range tests {
		got, err := EncodePrimitive(UInt{Value: tt.value}, CurrentVersion)
		if err != nil {
			t.Fatalf("EncodePrimitive(%d) failed: %v", tt.value, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("EncodePrimitive(%d) = %x, want %x", tt.value, got, tt.want)
		}
		back, err := DecodeUInt(got)
		if err != nil {
			t.Fatalf("DecodeUInt failed: %v", err)
		}
		if back.Value != tt.value || back.Blank {
			t.Errorf("DecodeUInt = %+v, want %d", back, tt.value)
		}
	}
}

func TestInt_MinimalEncoding(t *testing.T) {
	tests := []struct {
		value int64
		want  []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0xFF}},
		{127, []byte{0x7F}},
		{128, []byte{0x00, 0x80}},
		{-128, []byte{0x80}},
		{-129, []byte{0xFF, 0x7F}},
		{math.MaxInt64, []byte{0x7F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{math.MinInt64, []byte{0x80, 0, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		got, err := EncodePrimitive(Int{Value: tt.value}, CurrentVersion)
		if err != nil {
			t.Fatalf("EncodePrimitive(%d) failed: %v", tt.value, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("EncodePrimitive(%d) = %x, want %x", tt.value, got, tt.want)
		}
		back, err := DecodeInt(got)
		if err != nil {
			t.Fatalf("DecodeInt failed: %v", err)
		}
		if back.Value != tt.value {
			t.Errorf("DecodeInt = %d, want %d", back.Value, tt.value)
		}
	}
}

func TestDecodeUInt_TooLong(t *testing.T) {
	_, err := DecodeUInt(make([]byte, 9))
	if !errors.Is(err, failure.ErrDecodeFailure) {
		t.Errorf("DecodeUInt(9 bytes) error = %v, want ErrDecodeFailure", err)
	}
}

func TestPrimitive_BlankRoundTrip(t *testing.T) {
	types := []DataType{
		DataTypeInt, DataTypeUInt, DataTypeFloat, DataTypeDouble, DataTypeReal,
		DataTypeDate, DataTypeTime, DataTypeDateTime, DataTypeQos, DataTypeState,
		DataTypeEnum, DataTypeArray, DataTypeBuffer, DataTypeAsciiString,
		DataTypeUtf8String, DataTypeRmtesString,
	}
	for _, dt := range types {
		t.Run(dt.String(), func(t *testing.T) {
			b, err := EncodePrimitive(Blank{Type: dt}, CurrentVersion)
			if err != nil {
				t.Fatalf("EncodePrimitive failed: %v", err)
			}
			if len(b) != 0 {
				t.Errorf("blank encoded to %x, want empty", b)
			}
			p, err := DecodePrimitive(dt, b, CurrentVersion)
			if err != nil {
				t.Fatalf("DecodePrimitive failed: %v", err)
			}
			if !p.IsBlank() {
				t.Errorf("DecodePrimitive(%s, empty) not blank: %+v", dt, p)
			}
		})
	}
}

func TestPrimitive_BlankIsNotZero(t *testing.T) {
	zero, err := EncodePrimitive(UInt{}, CurrentVersion)
	if err != nil {
		t.Fatalf("EncodePrimitive failed: %v", err)
	}
	p, err := DecodePrimitive(DataTypeUInt, zero, CurrentVersion)
	if err != nil {
		t.Fatalf("DecodePrimitive failed: %v", err)
	}
	if p.IsBlank() {
		t.Error("zero decoded as blank")
	}
}

func TestFloatDouble_RoundTrip(t *testing.T) {
	fb, _ := EncodePrimitive(Float{Value: 1.5}, CurrentVersion)
	f, err := DecodeFloat(fb)
	if err != nil || f.Value != 1.5 {
		t.Errorf("DecodeFloat = %v, %v; want 1.5", f.Value, err)
	}
	db, _ := EncodePrimitive(Double{Value: -2.25}, CurrentVersion)
	d, err := DecodeDouble(db)
	if err != nil || d.Value != -2.25 {
		t.Errorf("DecodeDouble = %v, %v; want -2.25", d.Value, err)
	}
	if _, err := DecodeDouble([]byte{1, 2, 3}); !errors.Is(err, failure.ErrDecodeFailure) {
		t.Errorf("DecodeDouble(3 bytes) error = %v, want ErrDecodeFailure", err)
	}
}

func TestEnum_Widths(t *testing.T) {
	for _, v := range []uint16{0, 7, 255, 256, 0xFFFF} {
		b, _ := EncodePrimitive(Enum{Value: v}, CurrentVersion)
		e, err := DecodeEnum(b)
		if err != nil {
			t.Fatalf("DecodeEnum failed: %v", err)
		}
		if e.Value != v {
			t.Errorf("Enum round trip = %d, want %d", e.Value, v)
		}
	}
}

func TestQos_RoundTrip(t *testing.T) {
	tests := []Qos{
		RealtimeTickByTick,
		{Timeliness: TimelinessDelayed, TimeInfo: 500, Rate: RateTimeConflated, RateInfo: 1000, Dynamic: true},
		{Timeliness: TimelinessDelayedUnknown, Rate: RateJITConflated},
	}
	for _, q := range tests {
		b, err := EncodePrimitive(q, CurrentVersion)
		if err != nil {
			t.Fatalf("EncodePrimitive(%s) failed: %v", q, err)
		}
		got, err := DecodeQos(b)
		if err != nil {
			t.Fatalf("DecodeQos failed: %v", err)
		}
		if got != q {
			t.Errorf("DecodeQos = %+v, want %+v", got, q)
		}
	}
}

func TestQos_IsBetter(t *testing.T) {
	delayed := Qos{Timeliness: TimelinessDelayed, TimeInfo: 15, Rate: RateTickByTick}
	if !RealtimeTickByTick.IsBetter(delayed) {
		t.Error("realtime should be better than delayed")
	}
	if delayed.IsBetter(RealtimeTickByTick) {
		t.Error("delayed should not be better than realtime")
	}
	if !delayed.InRange(RealtimeTickByTick, Qos{Timeliness: TimelinessDelayedUnknown, Rate: RateJITConflated}) {
		t.Error("delayed should be within [realtime, delayed unknown]")
	}
}

func TestState_RoundTrip(t *testing.T) {
	s := State{Stream: StreamStateOpen, Data: DataStateSuspect, Code: StateCodeTimeout, Text: []byte("recovering")}
	b, err := EncodePrimitive(s, CurrentVersion)
	if err != nil {
		t.Fatalf("EncodePrimitive failed: %v", err)
	}
	got, err := DecodeState(b)
	if err != nil {
		t.Fatalf("DecodeState failed: %v", err)
	}
	if got.Stream != s.Stream || got.Data != s.Data || got.Code != s.Code {
		t.Errorf("DecodeState = %s, want %s", got, s)
	}
	if !bytes.Equal(got.Text, s.Text) {
		t.Errorf("Text = %q, want %q", got.Text, s.Text)
	}
}

func TestReal_HintRoundTrip(t *testing.T) {
	for h := ExponentNeg14; h <= Fraction256; h++ {
		for _, m := range []int64{0, 1, -1, 12345, math.MaxInt64, math.MinInt64} {
			r := Real{Mantissa: m, Hint: h}
			b, err := EncodePrimitive(r, CurrentVersion)
			if err != nil {
				t.Fatalf("EncodePrimitive(%+v) failed: %v", r, err)
			}
			got, err := DecodeReal(b)
			if err != nil {
				t.Fatalf("DecodeReal(%x) failed: %v", b, err)
			}
			if got != r {
				t.Errorf("DecodeReal = %+v, want %+v", got, r)
			}
		}
	}
}

func TestReal_Special(t *testing.T) {
	for _, h := range []RealHint{Infinity, NegInfinity, NotANumber} {
		b, err := EncodePrimitive(Real{Hint: h}, CurrentVersion)
		if err != nil {
			t.Fatalf("EncodePrimitive failed: %v", err)
		}
		if len(b) != 1 {
			t.Errorf("special hint %d encoded %d bytes, want 1", h, len(b))
		}
		got, err := DecodeReal(b)
		if err != nil {
			t.Fatalf("DecodeReal failed: %v", err)
		}
		if got.Hint != h || !got.IsSpecial() {
			t.Errorf("DecodeReal = %+v, want hint %d", got, h)
		}
	}
	if f := (Real{Hint: NegInfinity}).Float64(); !math.IsInf(f, -1) {
		t.Errorf("Float64 = %v, want -Inf", f)
	}
}

func TestReal_BlankHint(t *testing.T) {
	got, err := DecodeReal([]byte{0x20})
	if err != nil {
		t.Fatalf("DecodeReal failed: %v", err)
	}
	if !got.Blank {
		t.Errorf("DecodeReal(0x20) = %+v, want blank", got)
	}
}

func TestReal_ReservedHint(t *testing.T) {
	_, err := DecodeReal([]byte{31, 0x01})
	if !errors.Is(err, failure.ErrDecodeFailure) {
		t.Errorf("DecodeReal(hint 31) error = %v, want ErrDecodeFailure", err)
	}
}

func TestRealFromDecimal(t *testing.T) {
	tests := []struct {
		in       string
		mantissa int64
		hint     RealHint
	}{
		{"39.90", 3990, ExponentNeg2},
		{"0", 0, Exponent0},
		{"-0.5", -5, ExponentNeg1},
		{"1e8", 10, ExponentPos7},
		{"1.000000000000000", 100000000000000, ExponentNeg14},
	}
	for _, tt := range tests {
		r, err := RealFromDecimal(decimal.RequireFromString(tt.in))
		if err != nil {
			t.Fatalf("RealFromDecimal(%s) failed: %v", tt.in, err)
		}
		if r.Mantissa != tt.mantissa || r.Hint != tt.hint {
			t.Errorf("RealFromDecimal(%s) = %+v, want %d hint %d", tt.in, r, tt.mantissa, tt.hint)
		}
		d, ok := r.Decimal()
		if !ok || !d.Equal(decimal.RequireFromString(tt.in)) {
			t.Errorf("Decimal() = %s, want %s", d, tt.in)
		}
	}
}

func TestRealFromDecimal_Unrepresentable(t *testing.T) {
	for _, in := range []string{"0.000000000000001", "99999999999999999999"} {
		_, err := RealFromDecimal(decimal.RequireFromString(in))
		if !errors.Is(err, failure.ErrInvalidUsage) {
			t.Errorf("RealFromDecimal(%s) error = %v, want ErrInvalidUsage", in, err)
		}
	}
}

func TestReal_Fraction(t *testing.T) {
	r := Real{Mantissa: 3, Hint: Fraction4}
	d, ok := r.Decimal()
	if !ok || !d.Equal(decimal.RequireFromString("0.75")) {
		t.Errorf("Decimal() = %s, want 0.75", d)
	}
	if r.Float64() != 0.75 {
		t.Errorf("Float64() = %v, want 0.75", r.Float64())
	}
}

func TestReal_String(t *testing.T) {
	if got := MustReal("39.90").String(); got != "39.90" {
		t.Errorf("String() = %q, want 39.90", got)
	}
}

func TestTime_VersionBranch(t *testing.T) {
	fine := Time{Hour: 9, Minute: 30, Second: 1, Millisecond: 250, Microsecond: 17, Nanosecond: 999}
	old := Version{Major: CurrentVersion.Major, Minor: 0}

	if _, err := EncodePrimitive(fine, old); !errors.Is(err, failure.ErrInvalidUsage) {
		t.Errorf("EncodePrimitive at %s error = %v, want ErrInvalidUsage", old, err)
	}

	b, err := EncodePrimitive(fine, CurrentVersion)
	if err != nil {
		t.Fatalf("EncodePrimitive failed: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("encoded length = %d, want 8", len(b))
	}
	got, err := DecodeTime(b, CurrentVersion)
	if err != nil {
		t.Fatalf("DecodeTime failed: %v", err)
	}
	if got != fine {
		t.Errorf("DecodeTime = %+v, want %+v", got, fine)
	}

	if _, err := DecodeTime(b, old); !errors.Is(err, failure.ErrDecodeFailure) {
		t.Errorf("DecodeTime at %s error = %v, want ErrDecodeFailure", old, err)
	}

	milli := Time{Hour: 23, Minute: 59, Second: 59, Millisecond: 999}
	b, err = EncodePrimitive(milli, old)
	if err != nil {
		t.Fatalf("EncodePrimitive(ms) failed: %v", err)
	}
	if got, err := DecodeTime(b, old); err != nil || got != milli {
		t.Errorf("DecodeTime(ms) = %+v, %v; want %+v", got, err, milli)
	}
}

func TestTime_MicroOnly(t *testing.T) {
	tm := Time{Hour: 1, Minute: 2, Second: 3, Millisecond: 4, Microsecond: 5}
	b, err := EncodePrimitive(tm, CurrentVersion)
	if err != nil {
		t.Fatalf("EncodePrimitive failed: %v", err)
	}
	if len(b) != 7 {
		t.Errorf("encoded length = %d, want 7", len(b))
	}
	got, err := DecodeTime(b, CurrentVersion)
	if err != nil || got != tm {
		t.Errorf("DecodeTime = %+v, %v; want %+v", got, err, tm)
	}
}

func TestDate_ZeroIsBlank(t *testing.T) {
	d, err := DecodeDate([]byte{0, 0, 0, 0})
	if err != nil {
		t.Fatalf("DecodeDate failed: %v", err)
	}
	if !d.Blank {
		t.Errorf("DecodeDate(zero) = %+v, want blank", d)
	}
}

func TestDateTime_RoundTrip(t *testing.T) {
	dt := DateTime{
		Date: Date{Day: 16, Month: 10, Year: 2026},
		Time: Time{Hour: 14, Minute: 5, Second: 9, Millisecond: 1},
	}
	b, err := EncodePrimitive(dt, CurrentVersion)
	if err != nil {
		t.Fatalf("EncodePrimitive failed: %v", err)
	}
	got, err := DecodeDateTime(b, CurrentVersion)
	if err != nil {
		t.Fatalf("DecodeDateTime failed: %v", err)
	}
	if got != dt {
		t.Errorf("DecodeDateTime = %s, want %s", got, dt)
	}
	if got.UTC().Year() != 2026 {
		t.Errorf("UTC().Year() = %d, want 2026", got.UTC().Year())
	}
}

func TestArray_FixedAndVariable(t *testing.T) {
	fixed := Array{ItemType: DataTypeUInt, ItemLength: 2, Items: []Primitive{UInt{Value: 1}, UInt{Value: 0xFFFF}}}
	b, err := EncodePrimitive(fixed, CurrentVersion)
	if err != nil {
		t.Fatalf("EncodePrimitive(fixed) failed: %v", err)
	}
	got, err := DecodeArray(b, CurrentVersion)
	if err != nil {
		t.Fatalf("DecodeArray(fixed) failed: %v", err)
	}
	if len(got.Items) != 2 || got.Items[1].(UInt).Value != 0xFFFF {
		t.Errorf("DecodeArray(fixed) = %+v", got.Items)
	}

	variable := Array{ItemType: DataTypeAsciiString, Items: []Primitive{ASCII("BID"), Blank{}, ASCII("ASK")}}
	b, err = EncodePrimitive(variable, CurrentVersion)
	if err != nil {
		t.Fatalf("EncodePrimitive(variable) failed: %v", err)
	}
	got, err = DecodeArray(b, CurrentVersion)
	if err != nil {
		t.Fatalf("DecodeArray(variable) failed: %v", err)
	}
	if len(got.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(got.Items))
	}
	if s := got.Items[2].(Buffer).String(); s != "ASK" {
		t.Errorf("Items[2] = %q, want ASK", s)
	}
	if !got.Items[1].IsBlank() {
		t.Errorf("Items[1] = %+v, want blank", got.Items[1])
	}
}

func TestArray_FixedOverflow(t *testing.T) {
	a := Array{ItemType: DataTypeUInt, ItemLength: 1, Items: []Primitive{UInt{Value: 256}}}
	if _, err := EncodePrimitive(a, CurrentVersion); !errors.Is(err, failure.ErrInvalidUsage) {
		t.Errorf("EncodePrimitive error = %v, want ErrInvalidUsage", err)
	}
}
