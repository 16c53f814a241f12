// fpu_x87_trans.go - Transcendental group, constants, FXAM, FXTRACT, FSCALE, FSQRT
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"math"
	"math/big"
)

// x87ConstTable is indexed by the D9 E8..EE sub-selector, with the full
// 64-bit mantissas the hardware ROM holds.
var x87ConstTable = [7]Ext80{
	{Mant: 0x8000000000000000, SignExp: 0x3FFF}, // FLD1
	{Mant: 0xD49A784BCD1B8AFE, SignExp: 0x4000}, // FLDL2T
	{Mant: 0xB8AA3B295C17F0BC, SignExp: 0x3FFF}, // FLDL2E
	{Mant: 0xC90FDAA22168C235, SignExp: 0x4000}, // FLDPI
	{Mant: 0x9A209A84FBCFF799, SignExp: 0x3FFD}, // FLDLG2
	{Mant: 0xB17217F7D1CF79AC, SignExp: 0x3FFE}, // FLDLN2
	{Mant: 0, SignExp: 0},                       // FLDZ
}

var ext80One = x87ConstTable[0]

// trigOutOfRange is the finite |x| >= 2^63 limit of FPTAN/FSIN/FCOS/FSINCOS.
// Infinities are invalid operands instead.
func trigOutOfRange(x Ext80) bool {
	return !x.IsNaN() && !x.IsInf() && x.Exponent() >= ext80ExpBias+63
}

// fromFloat64 turns a float64 library result back into a register value,
// applying precision control. Results with a fraction are inexact.
func (f *FPU_X87) fromFloat64(r float64) Ext80 {
	if math.IsNaN(r) {
		f.setException(x87FSW_IE)
		return ext80Indefinite
	}
	v := f.round(new(big.Float).SetFloat64(r))
	if !math.IsInf(r, 0) && r != math.Trunc(r) {
		f.setException(x87FSW_PE)
	}
	return v
}

// f2xm1 computes 2^x - 1 for ST0.
func (f *FPU_X87) f2xm1(x Ext80) Ext80 {
	if r, ok := f.nanOperand(x); ok {
		return r
	}
	switch {
	case x.IsZero():
		return x
	case x.IsInf():
		if x.Signbit() {
			return ext80One.Neg()
		}
		return x
	}
	return f.fromFloat64(math.Expm1(x.Float64() * math.Ln2))
}

// fyl2x computes y * log2(x).
func (f *FPU_X87) fyl2x(x, y Ext80) Ext80 {
	if r, ok := f.nanOperands(x, y); ok {
		return r
	}
	switch {
	case x.Signbit() && !x.IsZero():
		f.setException(x87FSW_IE)
		return ext80Indefinite
	case x.IsZero() && y.IsZero():
		f.setException(x87FSW_IE)
		return ext80Indefinite
	case x.IsZero():
		f.setException(x87FSW_ZE)
		return ext80Inf(!y.Signbit())
	}
	return f.fromFloat64(y.Float64() * math.Log2(x.Float64()))
}

// fyl2xp1 computes y * log2(x + 1).
func (f *FPU_X87) fyl2xp1(x, y Ext80) Ext80 {
	if r, ok := f.nanOperands(x, y); ok {
		return r
	}
	if x.IsZero() {
		return ext80Zero(x.Signbit() != y.Signbit())
	}
	return f.fromFloat64(y.Float64() * math.Log1p(x.Float64()) / math.Ln2)
}

func (f *FPU_X87) fpatan(x, y Ext80) Ext80 {
	f.fsw &^= x87FSW_C1
	if r, ok := f.nanOperands(x, y); ok {
		return r
	}
	return f.fromFloat64(math.Atan2(y.Float64(), x.Float64()))
}

// trig evaluates fn on ST0 for FSIN/FCOS. Infinity is invalid.
func (f *FPU_X87) trig(x Ext80, fn func(float64) float64) Ext80 {
	if r, ok := f.nanOperand(x); ok {
		return r
	}
	if x.IsInf() {
		f.setException(x87FSW_IE)
		return ext80Indefinite
	}
	if x.IsZero() && fn(0) == 0 {
		return x
	}
	return f.fromFloat64(fn(x.Float64()))
}

// fsqrt is exact: the root is rounded once at the current precision and
// squared back to detect inexactness.
func (f *FPU_X87) fsqrt(x Ext80) Ext80 {
	f.fsw &^= x87FSW_C1
	if r, ok := f.nanOperand(x); ok {
		return r
	}
	switch {
	case x.IsZero():
		return x
	case x.Signbit():
		f.setException(x87FSW_IE)
		return ext80Indefinite
	case x.IsInf():
		return x
	}
	bx := x.bigFloat()
	s := new(big.Float).SetPrec(f.precision()).SetMode(f.roundingMode()).Sqrt(bx)
	sq := new(big.Float).SetPrec(2*f.precision() + 2).Mul(s, s)
	acc := big.Exact
	switch sq.Cmp(bx) {
	case 1:
		acc = big.Above
	case -1:
		acc = big.Below
	}
	return f.roundAcc(s, acc)
}

// fscale multiplies x by 2^trunc(y) exactly before rounding.
func (f *FPU_X87) fscale(x, y Ext80) Ext80 {
	f.fsw &^= x87FSW_C1
	if r, ok := f.nanOperands(x, y); ok {
		return r
	}
	switch {
	case y.IsInf():
		switch {
		case x.IsZero() && !y.Signbit(), x.IsInf() && y.Signbit():
			f.setException(x87FSW_IE)
			return ext80Indefinite
		case y.Signbit():
			return ext80Zero(x.Signbit())
		}
		return ext80Inf(x.Signbit())
	case x.IsInf(), x.IsZero():
		return x
	}

	n, _ := y.bigFloat().Int64()
	const limit = 1 << 20
	n = max(min(n, limit), -limit)
	r := x.bigFloat()
	r.SetMantExp(r, int(n))
	return f.round(r)
}

// fxtract splits x into its unbiased exponent and a significand in [1, 2).
func (f *FPU_X87) fxtract(x Ext80) (exp, sig Ext80) {
	if r, ok := f.nanOperand(x); ok {
		return r, r
	}
	switch {
	case x.IsZero():
		f.setException(x87FSW_ZE)
		return ext80Inf(true), x
	case x.IsInf():
		return ext80Inf(false), x
	}
	e := int(x.Exponent())
	m := x.Mant
	if e == 0 {
		e = 1
	}
	for m&ext80IntBit == 0 {
		m <<= 1
		e--
	}
	return Ext80FromInt64(int64(e - ext80ExpBias)), NewExt80(x.Signbit(), ext80ExpBias, m)
}

// xam classifies ST0 into C3/C2/C0 with the sign in C1.
func (f *FPU_X87) xam(v Ext80, empty bool) {
	f.clearCond()
	if v.Signbit() {
		f.fsw |= x87FSW_C1
	}
	switch {
	case empty:
		f.fsw |= x87FSW_C0 | x87FSW_C3
	case v.IsUnsupported():
	case v.IsNaN():
		f.fsw |= x87FSW_C0
	case v.IsInf():
		f.fsw |= x87FSW_C0 | x87FSW_C2
	case v.IsZero():
		f.fsw |= x87FSW_C3
	case v.IsDenormal():
		f.fsw |= x87FSW_C2 | x87FSW_C3
	default:
		f.fsw |= x87FSW_C2
	}
}
