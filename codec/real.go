package codec

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/pithecene-io/sluice/failure"
)

// RealHint is the enumerated magnitude of a Real.
type RealHint uint8

// Exponent hints: value = mantissa * 10^(hint-14).
const (
	ExponentNeg14 RealHint = iota
	ExponentNeg13
	ExponentNeg12
	ExponentNeg11
	ExponentNeg10
	ExponentNeg9
	ExponentNeg8
	ExponentNeg7
	ExponentNeg6
	ExponentNeg5
	ExponentNeg4
	ExponentNeg3
	ExponentNeg2
	ExponentNeg1
	Exponent0
	ExponentPos1
	ExponentPos2
	ExponentPos3
	ExponentPos4
	ExponentPos5
	ExponentPos6
	ExponentPos7
)

// Fraction hints: value = mantissa / 2^(hint-22).
const (
	Fraction1 RealHint = iota + 22
	Fraction2
	Fraction4
	Fraction8
	Fraction16
	Fraction32
	Fraction64
	Fraction128
	Fraction256
)

// Special values. The mantissa is not written.
const (
	Infinity    RealHint = 33
	NegInfinity RealHint = 34
	NotANumber  RealHint = 35
)

const (
	minExponent = -14
	maxExponent = 7
	// realBlankHint marks a blank Real when a hint byte is present.
	realBlankHint = 0x20
)

// Real is a fixed-point value: Mantissa scaled by Hint.
type Real struct {
	Mantissa int64
	Hint     RealHint
	Blank    bool
}

func (Real) DataType() DataType { return DataTypeReal }
func (r Real) IsBlank() bool     { return r.Blank }

// IsSpecial reports whether r is Infinity, NegInfinity or NotANumber.
func (r Real) IsSpecial() bool {
	return r.Hint == Infinity || r.Hint == NegInfinity || r.Hint == NotANumber
}

func validHint(h RealHint) bool {
	return h <= Fraction256 || (h >= Infinity && h <= NotANumber)
}

func (r Real) appendValue(dst []byte, _ Version) ([]byte, error) {
	if !validHint(r.Hint) {
		return dst, failure.Usage("encode real", "invalid hint %d", r.Hint)
	}
	dst = append(dst, uint8(r.Hint))
	if r.IsSpecial() {
		return dst, nil
	}
	return appendInt(dst, r.Mantissa), nil
}

// DecodeReal decodes a hint byte followed by a signed mantissa.
func DecodeReal(b []byte) (Real, error) {
	if len(b) == 0 {
		return Real{Blank: true}, nil
	}
	if len(b) > 9 {
		return Real{}, failure.Decode("decode real", "length %d exceeds 9", len(b))
	}
	hint := b[0] & 0x3F
	switch {
	case hint == realBlankHint:
		return Real{Blank: true}, nil
	case hint >= Infinity.u8() && hint <= NotANumber.u8():
		return Real{Hint: RealHint(hint)}, nil
	case len(b) == 1:
		return Real{Blank: true}, nil
	}
	h := RealHint(b[0] & 0x1F)
	if h > Fraction256 {
		return Real{}, failure.Decode("decode real", "reserved hint %d", h)
	}
	return Real{Mantissa: readInt(b[1:]), Hint: h}, nil
}

func (h RealHint) u8() uint8 { return uint8(h) }

// Exponent returns the power of ten for exponent hints.
func (h RealHint) Exponent() (int32, bool) {
	if h > ExponentPos7 {
		return 0, false
	}
	return int32(h) - 14, true
}

// Denominator returns the divisor for fraction hints.
func (h RealHint) Denominator() (int64, bool) {
	if h < Fraction1 || h > Fraction256 {
		return 0, false
	}
	return int64(1) << uint(h-Fraction1), true
}

// HintForExponent returns the exponent hint for 10^exp.
func HintForExponent(exp int32) (RealHint, error) {
	if exp < minExponent || exp > maxExponent {
		return 0, failure.Usage("real hint", "exponent %d outside [%d, %d]", exp, minExponent, maxExponent)
	}
	return RealHint(exp + 14), nil
}

// Decimal returns the exact decimal value of r. Special and blank values
// have no decimal form.
func (r Real) Decimal() (decimal.Decimal, bool) {
	if r.Blank || r.IsSpecial() {
		return decimal.Zero, false
	}
	if exp, ok := r.Hint.Exponent(); ok {
		return decimal.New(r.Mantissa, exp), true
	}
	den, _ := r.Hint.Denominator()
	// powers of two always terminate within 8 decimal places
	return decimal.NewFromInt(r.Mantissa).DivRound(decimal.NewFromInt(den), 8), true
}

// Float64 returns r as a float64, including the special values.
func (r Real) Float64() float64 {
	switch {
	case r.Blank:
		return 0
	case r.Hint == Infinity:
		return math.Inf(1)
	case r.Hint == NegInfinity:
		return math.Inf(-1)
	case r.Hint == NotANumber:
		return math.NaN()
	}
	d, _ := r.Decimal()
	f, _ := d.Float64()
	return f
}

func (r Real) String() string {
	switch {
	case r.Blank:
		return ""
	case r.Hint == Infinity:
		return "Inf"
	case r.Hint == NegInfinity:
		return "-Inf"
	case r.Hint == NotANumber:
		return "NaN"
	}
	d, _ := r.Decimal()
	if exp, ok := r.Hint.Exponent(); ok && exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// RealFromDecimal converts d to a Real with an exponent hint that keeps
// every significant digit. Values needing an exponent below -14 or a
// mantissa wider than 64 bits fail with failure.ErrInvalidUsage.
func RealFromDecimal(d decimal.Decimal) (Real, error) {
	coef := new(big.Int).Set(d.Coefficient())
	exp := d.Exponent()

	ten := big.NewInt(10)
	for exp > maxExponent {
		coef.Mul(coef, ten)
		exp--
	}
	if exp < minExponent {
		var rem big.Int
		for exp < minExponent {
			q, _ := new(big.Int).QuoRem(coef, ten, &rem)
			if rem.Sign() != 0 {
				return Real{}, failure.Usage("real from decimal", "%s needs more than 14 decimal places", d)
			}
			coef = q
			exp++
		}
	}
	if !coef.IsInt64() {
		return Real{}, failure.Usage("real from decimal", "%s mantissa overflows int64", d)
	}
	hint, err := HintForExponent(exp)
	if err != nil {
		return Real{}, err
	}
	return Real{Mantissa: coef.Int64(), Hint: hint}, nil
}

// RealFromFloat64 rounds f to the given hint.
func RealFromFloat64(f float64, hint RealHint) (Real, error) {
	switch {
	case math.IsNaN(f):
		return Real{Hint: NotANumber}, nil
	case math.IsInf(f, 1):
		return Real{Hint: Infinity}, nil
	case math.IsInf(f, -1):
		return Real{Hint: NegInfinity}, nil
	}
	if exp, ok := hint.Exponent(); ok {
		d := decimal.NewFromFloat(f).Shift(-exp).Round(0)
		if !d.BigInt().IsInt64() {
			return Real{}, failure.Usage("real from float", "%v overflows hint %d", f, hint)
		}
		return Real{Mantissa: d.IntPart(), Hint: hint}, nil
	}
	if den, ok := hint.Denominator(); ok {
		return Real{Mantissa: int64(math.Round(f * float64(den))), Hint: hint}, nil
	}
	return Real{}, failure.Usage("real from float", "invalid hint %d", hint)
}

// MustReal builds a Real from a decimal string, panicking on error.
// Intended for tests and constant tables.
func MustReal(s string) Real {
	r, err := RealFromDecimal(decimal.RequireFromString(s))
	if err != nil {
		panic(fmt.Sprintf("codec: MustReal(%q): %v", s, err))
	}
	return r
}
