// fpu_x87_arith.go - Exact extended-precision arithmetic with x87 special-value policy
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"math/big"
)

// Results of compareValues.
const (
	x87CmpLess = iota
	x87CmpEqual
	x87CmpGreater
	x87CmpUnordered
)

// Pentium FDIV erratum trigger: top 20 mantissa bits of the dividend in
// 1100 0010 0000 0000 0000 .. 1100 0011 1111 1111 1111, or the published
// 4195835 / 3145727 pair.
const (
	fdivBugWindowLo = 0xC2000
	fdivBugWindowHi = 0xC3FFF
	fdivBugError    = 1.5e-10
)

var (
	fdivBugDividend = Ext80FromInt64(4195835)
	fdivBugDivisor  = Ext80FromInt64(3145727)
)

// nanOperand filters a single operand. ok is true when r is the final result.
func (f *FPU_X87) nanOperand(x Ext80) (r Ext80, ok bool) {
	switch {
	case x.IsUnsupported():
		f.setException(x87FSW_IE)
		return ext80Indefinite, true
	case x.IsNaN():
		if x.IsSNaN() {
			f.setException(x87FSW_IE)
		}
		return x.quiet(), true
	case x.IsDenormal():
		f.setException(x87FSW_DE)
	}
	return Ext80{}, false
}

// nanOperands propagates the first NaN operand, quieted. A signalling NaN
// also raises IE.
func (f *FPU_X87) nanOperands(x, y Ext80) (Ext80, bool) {
	if x.IsUnsupported() || y.IsUnsupported() {
		f.setException(x87FSW_IE)
		return ext80Indefinite, true
	}
	if x.IsNaN() || y.IsNaN() {
		if x.IsSNaN() || y.IsSNaN() {
			f.setException(x87FSW_IE)
		}
		if x.IsNaN() {
			return x.quiet(), true
		}
		return y.quiet(), true
	}
	if x.IsDenormal() || y.IsDenormal() {
		f.setException(x87FSW_DE)
	}
	return Ext80{}, false
}

// exactSumPrec is enough significand bits to hold x+y without rounding.
func exactSumPrec(x, y *big.Float) uint {
	if x.Sign() == 0 || y.Sign() == 0 {
		return 130
	}
	d := x.MantExp(nil) - y.MantExp(nil)
	if d < 0 {
		d = -d
	}
	return uint(d) + 130
}

func (f *FPU_X87) add(x, y Ext80) Ext80 {
	if r, ok := f.nanOperands(x, y); ok {
		return r
	}
	return f.addValues(x, y)
}

func (f *FPU_X87) sub(x, y Ext80) Ext80 {
	if r, ok := f.nanOperands(x, y); ok {
		return r
	}
	return f.addValues(x, y.Neg())
}

// addValues adds two non-NaN operands. Infinities of opposite sign are
// invalid and yield a NaN carrying the sign of x.
func (f *FPU_X87) addValues(x, y Ext80) Ext80 {
	switch {
	case x.IsInf() && y.IsInf():
		if x.Signbit() != y.Signbit() {
			f.setException(x87FSW_IE)
			return ext80QNaN(x.Signbit())
		}
		return x
	case x.IsInf():
		return x
	case y.IsInf():
		return y
	}

	bx, by := x.bigFloat(), y.bigFloat()
	sum := new(big.Float).SetPrec(exactSumPrec(bx, by)).Add(bx, by)
	if sum.Sign() == 0 {
		neg := x.Signbit()
		if x.Signbit() != y.Signbit() {
			neg = f.roundControl() == x87FCW_RCDown
		}
		f.fsw &^= x87FSW_C1
		return ext80Zero(neg)
	}
	return f.round(sum)
}

func (f *FPU_X87) mul(x, y Ext80) Ext80 {
	if r, ok := f.nanOperands(x, y); ok {
		return r
	}
	neg := x.Signbit() != y.Signbit()
	switch {
	case x.IsInf() && y.IsZero(), x.IsZero() && y.IsInf():
		f.setException(x87FSW_IE)
		return ext80Indefinite
	case x.IsInf(), y.IsInf():
		return ext80Inf(neg)
	case x.IsZero(), y.IsZero():
		return ext80Zero(neg)
	}
	p := new(big.Float).SetPrec(130).Mul(x.bigFloat(), y.bigFloat())
	return f.round(p)
}

func (f *FPU_X87) div(x, y Ext80) Ext80 {
	if r, ok := f.nanOperands(x, y); ok {
		return r
	}
	neg := x.Signbit() != y.Signbit()
	switch {
	case x.IsInf() && y.IsInf(), x.IsZero() && y.IsZero():
		f.setException(x87FSW_IE)
		return ext80Indefinite
	case x.IsInf():
		return ext80Inf(neg)
	case y.IsInf(), x.IsZero():
		return ext80Zero(neg)
	case y.IsZero():
		f.setException(x87FSW_ZE)
		return ext80Inf(neg)
	}

	if f.model.hasFDIVBug() && fdivBugTriggered(x, y) {
		f.stats.FDIVErrata++
		xd, yd := x.Float64(), y.Float64()
		return f.roundAcc(new(big.Float).SetFloat64((xd-fdivBugError*xd)/yd), big.Below)
	}

	return f.round(stickyQuo(x.bigFloat(), y.bigFloat()))
}

// stickyQuo carries x/y to 192 bits, truncated, and appends a sticky bit
// when the quotient is inexact. A single rounding of the result to 64 bits
// or fewer, denormals included, matches rounding the exact quotient.
func stickyQuo(x, y *big.Float) *big.Float {
	q := new(big.Float).SetPrec(192).SetMode(big.ToZero).Quo(x, y)
	if q.Acc() == big.Exact {
		return q
	}
	sticky := new(big.Float).SetMantExp(big.NewFloat(1), q.MantExp(nil)-193)
	if q.Signbit() {
		sticky.Neg(sticky)
	}
	return new(big.Float).SetPrec(193).Add(q, sticky)
}

// fdivBugTriggered inspects the normalised dividend mantissa the way the
// flawed SRT lookup table did.
func fdivBugTriggered(x, y Ext80) bool {
	top := x.Abs().Mant >> 44
	if top >= fdivBugWindowLo && top <= fdivBugWindowHi {
		return true
	}
	return x.Abs() == fdivBugDividend && y.Abs() == fdivBugDivisor
}

// roundAcc rounds a value that was already produced inexactly (acc).
func (f *FPU_X87) roundAcc(x *big.Float, acc big.Accuracy) Ext80 {
	v := f.round(x)
	if acc != big.Exact && !x.IsInf() {
		f.setException(x87FSW_PE)
		f.setCond(x87FSW_C1, (acc == big.Above) == (x.Sign() > 0))
	}
	return v
}

// roundToInt is FRNDINT: round by FCW.RC, keep the sign of a zero result.
func (f *FPU_X87) roundToInt(x Ext80) Ext80 {
	if r, ok := f.nanOperand(x); ok {
		return r
	}
	if x.IsInf() || x.IsZero() {
		return x
	}
	i, inexact := roundBigToInt(x.bigFloat(), f.roundingMode())
	if inexact {
		f.setException(x87FSW_PE)
	}
	if i.Sign() == 0 {
		return ext80Zero(x.Signbit())
	}
	v, _ := ext80FromBig(new(big.Float).SetInt(i), 64, big.ToNearestEven)
	return v
}

// compareValues orders x against y. quiet selects FUCOM semantics where only
// signalling NaNs are invalid.
func (f *FPU_X87) compareValues(x, y Ext80, quiet bool) int {
	if x.IsUnsupported() || y.IsUnsupported() {
		f.setException(x87FSW_IE)
		return x87CmpUnordered
	}
	if x.IsNaN() || y.IsNaN() {
		if !quiet || x.IsSNaN() || y.IsSNaN() {
			f.setException(x87FSW_IE)
		}
		return x87CmpUnordered
	}
	if x.IsDenormal() || y.IsDenormal() {
		f.setException(x87FSW_DE)
	}
	switch x.bigFloat().Cmp(y.bigFloat()) {
	case -1:
		return x87CmpLess
	case 1:
		return x87CmpGreater
	}
	return x87CmpEqual
}

// setCompareCond reports an ordering in C0/C2/C3 and clears C1.
func (f *FPU_X87) setCompareCond(r int) {
	f.clearCond()
	switch r {
	case x87CmpLess:
		f.fsw |= x87FSW_C0
	case x87CmpEqual:
		f.fsw |= x87FSW_C3
	case x87CmpUnordered:
		f.fsw |= x87FSW_C0 | x87FSW_C2 | x87FSW_C3
	}
}

// setCompareFlags reports an ordering in the host's ZF/PF/CF (FCOMI family).
func (f *FPU_X87) setCompareFlags(r int) {
	f.fsw &^= x87FSW_C1
	flags := f.host.Flags() &^ (FlagZF | FlagPF | FlagCF)
	switch r {
	case x87CmpLess:
		flags |= FlagCF
	case x87CmpEqual:
		flags |= FlagZF
	case x87CmpUnordered:
		flags |= FlagZF | FlagPF | FlagCF
	}
	f.host.SetFlags(flags)
}

func (f *FPU_X87) compare(x, y Ext80, quiet bool) {
	f.setCompareCond(f.compareValues(x, y, quiet))
}

// scaledInt returns |x| as m*2^e with an integer m.
func scaledInt(x Ext80) (*big.Int, int) {
	exp := int(x.Exponent())
	if exp == 0 {
		exp = 1
	}
	return new(big.Int).SetUint64(x.Mant), exp - ext80ExpBias - 63
}

// partialRemainder computes the complete x87 remainder of x by y. FPREM
// truncates the quotient, FPREM1 rounds it to nearest-even. The three low
// quotient bits land in C0 (bit 2), C3 (bit 1) and C1 (bit 0); C2 is
// cleared since the reduction always completes.
func (f *FPU_X87) partialRemainder(x, y Ext80, nearest bool) Ext80 {
	if r, ok := f.nanOperands(x, y); ok {
		return r
	}
	switch {
	case x.IsInf(), y.IsZero():
		f.setException(x87FSW_IE)
		return ext80Indefinite
	case y.IsInf(), x.IsZero():
		f.setQuotientBits(0)
		return x
	}

	mx, ex := scaledInt(x)
	my, ey := scaledInt(y)
	e := min(ex, ey)
	mx.Lsh(mx, uint(ex-e))
	my.Lsh(my, uint(ey-e))

	q, r := new(big.Int).QuoRem(mx, my, new(big.Int))
	neg := x.Signbit()
	if nearest && r.Sign() != 0 {
		twice := new(big.Int).Lsh(r, 1)
		c := twice.Cmp(my)
		if c > 0 || (c == 0 && q.Bit(0) == 1) {
			q.Add(q, big.NewInt(1))
			r.Sub(my, r)
			neg = !neg
		}
	}

	bits := q.Bit(0) | q.Bit(1)<<1 | q.Bit(2)<<2
	f.setQuotientBits(bits)
	if r.Sign() == 0 {
		return ext80Zero(x.Signbit())
	}
	rf := new(big.Float).SetInt(r)
	rf.SetMantExp(rf, e)
	if neg {
		rf.Neg(rf)
	}
	v, flags := ext80FromBig(rf, 64, f.roundingMode())
	if flags&x87FSW_UE != 0 {
		f.setException(x87FSW_UE)
	}
	return v
}

func (f *FPU_X87) setQuotientBits(q uint) {
	f.fsw &^= x87FSW_CondAll
	if q&0x4 != 0 {
		f.fsw |= x87FSW_C0
	}
	if q&0x2 != 0 {
		f.fsw |= x87FSW_C3
	}
	if q&0x1 != 0 {
		f.fsw |= x87FSW_C1
	}
}
