// fpu_x87_mem.go - Memory operand marshalling: integers, reals, BCD, environment images
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"math"
	"math/big"
)

const (
	x87IndefInt16 = uint16(0x8000)
	x87IndefInt32 = uint32(0x80000000)
	x87IndefInt64 = uint64(0x8000000000000000)
)

// Environment image sizes for the 16-bit and 32-bit protected-mode layouts.
const (
	x87Env16Size  = 14
	x87Env32Size  = 28
	x87Save16Size = x87Env16Size + 80
	x87Save32Size = x87Env32Size + 80
)

// binaryFormat describes an IEEE interchange format narrower than extended.
type binaryFormat struct {
	mant    uint // significand bits including the hidden bit
	emin    int
	emax    int
	expBits uint
}

var (
	float32Format = binaryFormat{mant: 24, emin: -126, emax: 127, expBits: 8}
	float64Format = binaryFormat{mant: 53, emin: -1022, emax: 1023, expBits: 11}
)

func (fm binaryFormat) fracBits() uint  { return fm.mant - 1 }
func (fm binaryFormat) signBit() uint64 { return 1 << (fm.fracBits() + fm.expBits) }
func (fm binaryFormat) expAll() uint64  { return (1<<fm.expBits - 1) << fm.fracBits() }

func (f *FPU_X87) loadInt16(a Address) Ext80 {
	return Ext80FromInt64(int64(int16(f.host.Read16(a))))
}

func (f *FPU_X87) loadInt32(a Address) Ext80 {
	return Ext80FromInt64(int64(int32(f.host.Read32(a))))
}

func (f *FPU_X87) loadInt64(a Address) Ext80 {
	lo := uint64(f.host.Read32(a))
	hi := uint64(f.host.Read32(a.Add(4)))
	return Ext80FromInt64(int64(hi<<32 | lo))
}

// loadReal finishes a float32/float64 load: signalling NaNs are quieted
// with IE, denormal sources raise DE.
func (f *FPU_X87) loadReal(v Ext80, denormal bool) Ext80 {
	if v.IsSNaN() {
		f.setException(x87FSW_IE)
		return v.quiet()
	}
	if denormal {
		f.setException(x87FSW_DE)
	}
	return v
}

func (f *FPU_X87) loadFloat32(a Address) Ext80 {
	bits := f.host.Read32(a)
	denormal := bits&0x7F800000 == 0 && bits&0x007FFFFF != 0
	return f.loadReal(Ext80FromFloat32(math.Float32frombits(bits)), denormal)
}

func (f *FPU_X87) loadFloat64(a Address) Ext80 {
	lo := uint64(f.host.Read32(a))
	hi := uint64(f.host.Read32(a.Add(4)))
	bits := hi<<32 | lo
	denormal := bits&0x7FF0000000000000 == 0 && bits&0x000FFFFFFFFFFFFF != 0
	return f.loadReal(Ext80FromFloat64(math.Float64frombits(bits)), denormal)
}

// loadExt80 transfers the ten bytes verbatim.
func (f *FPU_X87) loadExt80(a Address) Ext80 {
	var b [10]byte
	for i := range b {
		b[i] = f.host.Read8(a.Add(uint32(i)))
	}
	return DecodeExt80(b)
}

func (f *FPU_X87) storeExt80(a Address, v Ext80) {
	b := v.Encode()
	for i := range b {
		f.host.Write8(a.Add(uint32(i)), b[i])
	}
}

func (f *FPU_X87) storeFloat32(a Address, v Ext80) {
	f.host.Write32(a, uint32(f.narrow(v, float32Format)))
}

func (f *FPU_X87) storeFloat64(a Address, v Ext80) {
	bits := f.narrow(v, float64Format)
	f.host.Write32(a, uint32(bits))
	f.host.Write32(a.Add(4), uint32(bits>>32))
}

// narrow converts v to the bit pattern of fm, rounding by FCW.RC and
// reporting PE, UE and OE the way FST m32/m64 does.
func (f *FPU_X87) narrow(v Ext80, fm binaryFormat) uint64 {
	var sign uint64
	if v.Signbit() {
		sign = fm.signBit()
	}
	quietBit := uint64(1) << (fm.fracBits() - 1)

	switch {
	case v.IsUnsupported():
		f.setException(x87FSW_IE)
		return fm.signBit() | fm.expAll() | quietBit
	case v.IsNaN():
		frac := (v.Mant << 1) >> (64 - fm.fracBits())
		if v.IsSNaN() {
			f.setException(x87FSW_IE)
			frac |= quietBit
		}
		if frac == 0 {
			frac = quietBit
		}
		return sign | fm.expAll() | frac
	case v.IsInf():
		return sign | fm.expAll()
	case v.IsZero():
		return sign
	case v.IsDenormal():
		f.setException(x87FSW_DE)
	}

	mode := f.roundingMode()
	x := v.bigFloat()
	if x.MantExp(nil)-1 < fm.emin {
		scaled := new(big.Float).SetMantExp(x, -fm.emin+int(fm.fracBits()))
		k, inexact := roundBigToInt(scaled, mode)
		if inexact {
			f.setException(x87FSW_UE | x87FSW_PE)
		}
		return sign | k.Abs(k).Uint64()
	}

	r := new(big.Float).SetPrec(fm.mant).SetMode(mode).Set(x)
	if r.Acc() != big.Exact {
		f.setException(x87FSW_PE)
	}
	exp := r.MantExp(nil)
	if exp-1 > fm.emax {
		f.setException(x87FSW_OE | x87FSW_PE)
		if ext80Overflow(v.Signbit(), 64, mode).IsInf() {
			return sign | fm.expAll()
		}
		return sign | uint64(2*fm.emax)<<fm.fracBits() | (1<<fm.fracBits() - 1)
	}
	m := new(big.Float).Abs(r)
	m.SetMantExp(m, int(fm.mant)-exp)
	u, _ := m.Uint64()
	biased := uint64(exp - 1 + fm.emax)
	return sign | biased<<fm.fracBits() | u&(1<<fm.fracBits()-1)
}

// intValue rounds v to an int64 under mode. ok is false for NaN, infinity
// and magnitudes outside int64.
func (f *FPU_X87) intValue(v Ext80, mode big.RoundingMode) (int64, bool) {
	if v.IsNaN() || v.IsInf() || v.IsUnsupported() {
		return 0, false
	}
	if v.IsZero() {
		return 0, true
	}
	if v.IsDenormal() {
		f.setException(x87FSW_DE)
	}
	i, inexact := roundBigToInt(v.bigFloat(), mode)
	if !i.IsInt64() {
		return 0, false
	}
	if inexact {
		f.setException(x87FSW_PE)
	}
	return i.Int64(), true
}

// fistErratum reproduces the P6 rounding-overflow bug: with RC other than
// round-down, a 16/32-bit store of a value below the destination minimum
// writes the indefinite sentinel and only reports PE.
func (f *FPU_X87) fistErratum(a Address, v Ext80, width int) bool {
	if !f.model.hasFISTBug() || f.roundControl() == x87FCW_RCDown || width == 64 {
		return false
	}
	if v.IsNaN() || v.IsUnsupported() {
		return false
	}
	limit := big.NewFloat(math.MinInt16)
	if width == 32 {
		limit = big.NewFloat(math.MinInt32)
	}
	if v.bigFloat().Cmp(limit) >= 0 {
		return false
	}
	if width == 16 {
		f.host.Write16(a, x87IndefInt16)
	} else {
		f.host.Write32(a, x87IndefInt32)
	}
	f.setException(x87FSW_PE)
	f.stats.FISTErrata++
	return true
}

// storeInt is the shared FIST/FISTP/FISTTP path. Values that fit int64 are
// wrapped to the destination width; the rest store the indefinite integer.
func (f *FPU_X87) storeInt(a Address, v Ext80, width int, mode big.RoundingMode, errata bool) {
	if errata && f.fistErratum(a, v, width) {
		return
	}
	n, ok := f.intValue(v, mode)
	switch width {
	case 16:
		if !ok {
			f.setException(x87FSW_IE)
			f.host.Write16(a, x87IndefInt16)
			return
		}
		f.host.Write16(a, uint16(n))
	case 32:
		if !ok {
			f.setException(x87FSW_IE)
			f.host.Write32(a, x87IndefInt32)
			return
		}
		f.host.Write32(a, uint32(n))
	default:
		u := uint64(n)
		if !ok {
			f.setException(x87FSW_IE)
			u = x87IndefInt64
		}
		f.host.Write32(a, uint32(u))
		f.host.Write32(a.Add(4), uint32(u>>32))
	}
}

// loadBCD reads 18 packed decimal digits and a sign byte.
func (f *FPU_X87) loadBCD(a Address) Ext80 {
	var val int64
	mul := int64(1)
	for i := 0; i < 9; i++ {
		b := f.host.Read8(a.Add(uint32(i)))
		val += int64(b&0x0F) * mul
		mul *= 10
		val += int64(b>>4) * mul
		mul *= 10
	}
	neg := f.host.Read8(a.Add(9))&0x80 != 0
	if val == 0 {
		return ext80Zero(neg)
	}
	if neg {
		val = -val
	}
	return Ext80FromInt64(val)
}

// storeBCD rounds by FCW.RC; anything beyond 18 digits stores the BCD
// indefinite and raises IE.
func (f *FPU_X87) storeBCD(a Address, v Ext80) {
	n, ok := f.intValue(v, f.roundingMode())
	if ok && (n > 999999999999999999 || n < -999999999999999999) {
		ok = false
	}
	if !ok {
		f.setException(x87FSW_IE)
		for i := 0; i < 7; i++ {
			f.host.Write8(a.Add(uint32(i)), 0)
		}
		f.host.Write8(a.Add(7), 0xC0)
		f.host.Write8(a.Add(8), 0xFF)
		f.host.Write8(a.Add(9), 0xFF)
		return
	}
	neg := n < 0 || (n == 0 && v.Signbit())
	if n < 0 {
		n = -n
	}
	for i := 0; i < 9; i++ {
		d0 := byte(n % 10)
		n /= 10
		d1 := byte(n % 10)
		n /= 10
		f.host.Write8(a.Add(uint32(i)), d0|d1<<4)
	}
	var sign byte
	if neg {
		sign = 0x80
	}
	f.host.Write8(a.Add(9), sign)
}

// storeEnv writes FNSTENV's image; size32 picks the 28-byte layout.
func (f *FPU_X87) storeEnv(a Address, size32 bool) uint32 {
	if !size32 {
		f.host.Write16(a, f.fcw)
		f.host.Write16(a.Add(2), f.fsw)
		f.host.Write16(a.Add(4), f.ftw)
		f.host.Write16(a.Add(6), uint16(f.fip))
		f.host.Write16(a.Add(8), f.fcs)
		f.host.Write16(a.Add(10), uint16(f.fdp))
		f.host.Write16(a.Add(12), f.fds)
		return x87Env16Size
	}
	f.host.Write32(a, uint32(f.fcw))
	f.host.Write32(a.Add(4), uint32(f.fsw))
	f.host.Write32(a.Add(8), uint32(f.ftw))
	f.host.Write32(a.Add(12), f.fip)
	f.host.Write32(a.Add(16), uint32(f.fcs)|uint32(f.fop&0x7FF)<<16)
	f.host.Write32(a.Add(20), f.fdp)
	f.host.Write32(a.Add(24), uint32(f.fds))
	return x87Env32Size
}

func (f *FPU_X87) loadEnv(a Address, size32 bool) uint32 {
	if !size32 {
		f.fcw = f.host.Read16(a)
		f.fsw = f.host.Read16(a.Add(2))
		f.ftw = f.host.Read16(a.Add(4))
		f.fip = uint32(f.host.Read16(a.Add(6)))
		f.fcs = f.host.Read16(a.Add(8))
		f.fdp = uint32(f.host.Read16(a.Add(10)))
		f.fds = f.host.Read16(a.Add(12))
		f.updateSummary()
		return x87Env16Size
	}
	f.fcw = uint16(f.host.Read32(a))
	f.fsw = uint16(f.host.Read32(a.Add(4)))
	f.ftw = uint16(f.host.Read32(a.Add(8)))
	f.fip = f.host.Read32(a.Add(12))
	mix := f.host.Read32(a.Add(16))
	f.fcs = uint16(mix)
	f.fop = uint16(mix>>16) & 0x7FF
	f.fdp = f.host.Read32(a.Add(20))
	f.fds = uint16(f.host.Read32(a.Add(24)))
	f.updateSummary()
	return x87Env32Size
}

// fnstenv masks every exception after the image is written.
func (f *FPU_X87) fnstenv(a Address, size32 bool) {
	f.storeEnv(a, size32)
	f.fcw |= x87FSW_ExcMask
}

func (f *FPU_X87) fldenv(a Address, size32 bool) {
	f.loadEnv(a, size32)
}

// fnsave stores the environment and ST0..ST7, then reinitialises.
func (f *FPU_X87) fnsave(a Address, size32 bool) {
	base := a.Add(f.storeEnv(a, size32))
	for i := 0; i < 8; i++ {
		f.storeExt80(base.Add(uint32(i*10)), f.regs[f.physReg(i)])
	}
	f.reinit()
}

func (f *FPU_X87) frstor(a Address, size32 bool) {
	base := a.Add(f.loadEnv(a, size32))
	for i := 0; i < 8; i++ {
		f.regs[f.physReg(i)] = f.loadExt80(base.Add(uint32(i * 10)))
	}
}
