// ext80.go - 80-bit extended precision value and its 10-byte wire form
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"strconv"
	"strings"
)

// Extended precision layout constants
const (
	ext80ExpBias  = 16383
	ext80ExpMax   = uint16(0x7FFF)
	ext80SignBit  = uint16(0x8000)
	ext80IntBit   = uint64(1) << 63
	ext80QuietBit = uint64(1) << 62
)

// Ext80 is one x87 register value: a 64-bit mantissa with an explicit
// integer bit and a combined sign + 15-bit biased exponent. It is kept as raw
// bits so that every pattern the hardware can hold survives a load/store.
type Ext80 struct {
	Mant    uint64
	SignExp uint16
}

// ext80Indefinite is the "real indefinite" QNaN the unit substitutes for
// masked invalid operations.
var ext80Indefinite = Ext80{Mant: 0xC000000000000000, SignExp: 0xFFFF}

// NewExt80 builds a value from its fields.
func NewExt80(neg bool, exp uint16, mant uint64) Ext80 {
	se := exp & ext80ExpMax
	if neg {
		se |= ext80SignBit
	}
	return Ext80{Mant: mant, SignExp: se}
}

// DecodeExt80 reinterprets the 10-byte memory image: mantissa in bytes 0-7,
// sign/exponent in bytes 8-9, both little-endian.
func DecodeExt80(b [10]byte) Ext80 {
	return Ext80{
		Mant:    binary.LittleEndian.Uint64(b[0:8]),
		SignExp: binary.LittleEndian.Uint16(b[8:10]),
	}
}

// Encode is the inverse of DecodeExt80.
func (e Ext80) Encode() [10]byte {
	var b [10]byte
	binary.LittleEndian.PutUint64(b[0:8], e.Mant)
	binary.LittleEndian.PutUint16(b[8:10], e.SignExp)
	return b
}

func (e Ext80) Signbit() bool    { return e.SignExp&ext80SignBit != 0 }
func (e Ext80) Exponent() uint16 { return e.SignExp & ext80ExpMax }

func (e Ext80) IsZero() bool {
	return e.Exponent() == 0 && e.Mant == 0
}

func (e Ext80) IsInf() bool {
	return e.Exponent() == ext80ExpMax && e.Mant == ext80IntBit
}

// IsNaN treats any non-zero fraction under the maximum exponent as NaN,
// including the pseudo-NaN forms without an integer bit.
func (e Ext80) IsNaN() bool {
	return e.Exponent() == ext80ExpMax && e.Mant<<1 != 0
}

func (e Ext80) IsSNaN() bool {
	return e.IsNaN() && e.Mant&ext80QuietBit == 0
}

func (e Ext80) IsDenormal() bool {
	return e.Exponent() == 0 && e.Mant != 0
}

// IsUnsupported reports the encodings the 387 and later reject as operands:
// unnormals, pseudo-infinity and pseudo-NaN.
func (e Ext80) IsUnsupported() bool {
	return e.Exponent() != 0 && e.Mant&ext80IntBit == 0
}

func (e Ext80) Neg() Ext80 {
	e.SignExp ^= ext80SignBit
	return e
}

func (e Ext80) Abs() Ext80 {
	e.SignExp &^= ext80SignBit
	return e
}

func (e Ext80) quiet() Ext80 {
	e.Mant |= ext80QuietBit | ext80IntBit
	return e
}

func ext80Zero(neg bool) Ext80 {
	return NewExt80(neg, 0, 0)
}

func ext80Inf(neg bool) Ext80 {
	return NewExt80(neg, ext80ExpMax, ext80IntBit)
}

func ext80QNaN(neg bool) Ext80 {
	return NewExt80(neg, ext80ExpMax, ext80IntBit|ext80QuietBit)
}

// Ext80FromFloat64 widens a double exactly. NaN payloads keep their bit
// positions and denormals are normalised.
func Ext80FromFloat64(f float64) Ext80 {
	b := math.Float64bits(f)
	neg := b>>63 != 0
	exp := uint16((b >> 52) & 0x7FF)
	frac := b & 0x000FFFFFFFFFFFFF

	switch exp {
	case 0x7FF:
		return NewExt80(neg, ext80ExpMax, ext80IntBit|frac<<11)
	case 0:
		if frac == 0 {
			return ext80Zero(neg)
		}
		lz := bits.LeadingZeros64(frac)
		return NewExt80(neg, uint16(ext80ExpBias+63-1074-lz), frac<<uint(lz))
	}
	return NewExt80(neg, exp+(ext80ExpBias-1023), ext80IntBit|frac<<11)
}

// Ext80FromFloat32 widens a single exactly.
func Ext80FromFloat32(f float32) Ext80 {
	b := math.Float32bits(f)
	neg := b>>31 != 0
	exp := uint16((b >> 23) & 0xFF)
	frac := uint64(b & 0x007FFFFF)

	switch exp {
	case 0xFF:
		return NewExt80(neg, ext80ExpMax, ext80IntBit|frac<<40)
	case 0:
		if frac == 0 {
			return ext80Zero(neg)
		}
		lz := bits.LeadingZeros64(frac)
		return NewExt80(neg, uint16(ext80ExpBias+63-149-lz), frac<<uint(lz))
	}
	return NewExt80(neg, exp+(ext80ExpBias-127), ext80IntBit|frac<<40)
}

// Ext80FromInt64 converts an integer exactly; every int64 fits the 64-bit mantissa.
func Ext80FromInt64(v int64) Ext80 {
	if v == 0 {
		return ext80Zero(false)
	}
	u := uint64(v)
	if v < 0 {
		u = -u
	}
	lz := bits.LeadingZeros64(u)
	return NewExt80(v < 0, uint16(ext80ExpBias+63-lz), u<<uint(lz))
}

// bigFloat returns the exact value of a finite or infinite operand.
// Callers must filter NaNs first.
func (e Ext80) bigFloat() *big.Float {
	if e.IsInf() {
		return new(big.Float).SetInf(e.Signbit())
	}
	z := new(big.Float).SetPrec(64).SetUint64(e.Mant)
	exp := int(e.Exponent())
	if exp == 0 {
		exp = 1
	}
	z.SetMantExp(z, exp-ext80ExpBias-63)
	if e.Signbit() {
		z.Neg(z)
	}
	return z
}

// Float64 rounds to the nearest double. Used for the transcendental group
// and for display; never on the load/store path.
func (e Ext80) Float64() float64 {
	if e.IsNaN() || e.IsUnsupported() {
		frac := (e.Mant >> 11) & 0x000FFFFFFFFFFFFF
		if frac == 0 {
			frac = 1 << 51
		}
		b := uint64(0x7FF)<<52 | frac
		if e.Signbit() {
			b |= 1 << 63
		}
		return math.Float64frombits(b)
	}
	f, _ := e.bigFloat().Float64()
	return f
}

// ext80FromBig rounds x into the extended format at prec significant bits
// using mode. It returns the OE/UE/PE status bits the rounding produced.
func ext80FromBig(x *big.Float, prec uint, mode big.RoundingMode) (Ext80, uint16) {
	neg := x.Signbit()
	if x.IsInf() {
		return ext80Inf(neg), 0
	}
	if x.Sign() == 0 {
		return ext80Zero(neg), 0
	}

	r := new(big.Float).SetPrec(prec).SetMode(mode).Set(x)
	var flags uint16
	if r.Acc() != big.Exact {
		flags |= x87FSW_PE
	}
	exp := r.MantExp(nil)
	biased := exp - 1 + ext80ExpBias
	if biased >= int(ext80ExpMax) {
		return ext80Overflow(neg, prec, mode), flags | x87FSW_OE | x87FSW_PE
	}
	if biased <= 0 {
		return ext80Denormal(x, mode)
	}

	m := new(big.Float).Abs(r)
	m.SetMantExp(m, 64-exp)
	mant, _ := m.Uint64()
	return NewExt80(neg, uint16(biased), mant), flags
}

// ext80Overflow is the masked overflow response: infinity when rounding
// moves away from zero, otherwise the largest finite value at prec bits.
func ext80Overflow(neg bool, prec uint, mode big.RoundingMode) Ext80 {
	switch {
	case mode == big.ToZero,
		mode == big.ToNegativeInf && !neg,
		mode == big.ToPositiveInf && neg:
		return NewExt80(neg, ext80ExpMax-1, ^uint64(0)<<(64-prec))
	}
	return ext80Inf(neg)
}

func ext80Denormal(x *big.Float, mode big.RoundingMode) (Ext80, uint16) {
	neg := x.Signbit()
	scaled := new(big.Float).SetMantExp(x, ext80ExpBias-1+63)
	i, inexact := roundBigToInt(scaled, mode)
	i.Abs(i)

	var flags uint16
	if inexact {
		flags = x87FSW_UE | x87FSW_PE
	}
	switch {
	case i.Sign() == 0:
		return ext80Zero(neg), flags
	case i.BitLen() > 63:
		return NewExt80(neg, 1, ext80IntBit), flags
	}
	return NewExt80(neg, 0, i.Uint64()), flags
}

// roundBigToInt rounds a finite x to an integer under mode and reports
// whether any fraction was discarded.
func roundBigToInt(x *big.Float, mode big.RoundingMode) (*big.Int, bool) {
	t, _ := x.Int(nil)
	frac := new(big.Float).Sub(x, new(big.Float).SetInt(t))
	if frac.Sign() == 0 {
		return t, false
	}

	one := big.NewInt(1)
	away := func() {
		if x.Sign() < 0 {
			t.Sub(t, one)
		} else {
			t.Add(t, one)
		}
	}
	switch mode {
	case big.ToZero:
	case big.ToNegativeInf:
		if x.Sign() < 0 {
			t.Sub(t, one)
		}
	case big.ToPositiveInf:
		if x.Sign() > 0 {
			t.Add(t, one)
		}
	default:
		c := frac.Abs(frac).Cmp(big.NewFloat(0.5))
		if c > 0 || (c == 0 && (mode == big.ToNearestAway || t.Bit(0) == 1)) {
			away()
		}
	}
	return t, true
}

func (e Ext80) String() string {
	switch {
	case e.IsNaN():
		return fmt.Sprintf("nan(%04X:%016X)", e.SignExp, e.Mant)
	case e.IsUnsupported():
		return fmt.Sprintf("unsupported(%04X:%016X)", e.SignExp, e.Mant)
	}
	return e.bigFloat().Text('g', 20)
}

// MarshalText emits the exact "SSSS:MMMMMMMMMMMMMMMM" hex form.
func (e Ext80) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%04X:%016X", e.SignExp, e.Mant)), nil
}

// UnmarshalText accepts the hex form produced by MarshalText, or any float
// literal strconv understands ("1.5", "-inf", "nan").
func (e *Ext80) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if se, m, ok := strings.Cut(s, ":"); ok {
		hi, err := strconv.ParseUint(se, 16, 16)
		if err != nil {
			return fmt.Errorf("ext80 sign/exponent %q: %w", se, err)
		}
		lo, err := strconv.ParseUint(m, 16, 64)
		if err != nil {
			return fmt.Errorf("ext80 mantissa %q: %w", m, err)
		}
		*e = Ext80{Mant: lo, SignExp: uint16(hi)}
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("ext80 value %q: %w", s, err)
	}
	*e = Ext80FromFloat64(f)
	return nil
}
