// mmx.go - MMX packed-integer unit over the x87 register file
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

const (
	mmxOpMOVDLoad  = 0x6E
	mmxOpMOVQLoad  = 0x6F
	mmxOpEMMS      = 0x77
	mmxOpMOVDStore = 0x7E
	mmxOpMOVQStore = 0x7F

	// An MMX write leaves the sign/exponent field all ones.
	mmxSignExp = uint16(0xFFFF)
)

// mmxBinaryOps maps the second opcode byte of a 0F-prefixed instruction to
// dest = op(dest, src).
var mmxBinaryOps = [256]func(d, s uint64) uint64{
	0xFC: paddb,
	0xFD: paddw,
	0xFE: paddd,
	0xEC: paddsb,
	0xED: paddsw,
	0xDC: paddusb,
	0xDD: paddusw,
	0xF8: psubb,
	0xF9: psubw,
	0xFA: psubd,
	0xE8: psubsb,
	0xE9: psubsw,
	0xD8: psubusb,
	0xD9: psubusw,

	0xE5: pmulhw,
	0xD5: pmullw,
	0xF5: pmaddwd,

	0x74: pcmpeqb,
	0x75: pcmpeqw,
	0x76: pcmpeqd,
	0x64: pcmpgtb,
	0x65: pcmpgtw,
	0x66: pcmpgtd,

	0xF1: psllw,
	0xF2: pslld,
	0xF3: psllq,
	0xD1: psrlw,
	0xD2: psrld,
	0xD3: psrlq,
	0xE1: psraw,
	0xE2: psrad,

	0xDB: pand,
	0xDF: pandn,
	0xEB: por,
	0xEF: pxor,

	0x60: punpcklbw,
	0x61: punpcklwd,
	0x62: punpckldq,
	0x68: punpckhbw,
	0x69: punpckhwd,
	0x6A: punpckhdq,

	0x63: packsswb,
	0x6B: packssdw,
	0x67: packuswb,

	mmxOpMOVQLoad: movq,
}

// DispatchMMX executes the 0F-prefixed MMX instruction whose second byte is
// opcode. MMX mode is entered before anything else, even for opcodes the
// unit does not implement.
func (f *FPU_X87) DispatchMMX(opcode byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mmx = true
	f.stats.MMXInstructions++

	if opcode == mmxOpEMMS {
		f.ftw = 0xFFFF
		f.mmx = false
		return
	}

	modrm := f.host.ModRM()
	reg := int(modrm>>3) & 7
	rm := int(modrm) & 7
	mem := !f.host.IsRegister()
	var a Address
	if mem {
		a = f.host.EffectiveAddress()
	}

	switch opcode {
	case mmxOpMOVDLoad:
		if mem {
			f.setMM(reg, uint64(f.host.Read32(a)))
		} else {
			f.setMM(reg, uint64(f.host.Reg32(rm)))
		}
		return
	case mmxOpMOVDStore:
		v := uint32(f.mm(reg))
		if mem {
			f.host.Write32(a, v)
		} else {
			f.host.SetReg32(rm, v)
		}
		return
	case mmxOpMOVQStore:
		v := f.mm(reg)
		if mem {
			f.host.Write32(a, uint32(v))
			f.host.Write32(a.Add(4), uint32(v>>32))
		} else {
			f.setMM(rm, v)
		}
		return
	}

	op := mmxBinaryOps[opcode]
	if op == nil {
		f.stats.Undefined++
		f.log.Warnf("undefined MMX instruction 0F %02X %02X", opcode, modrm)
		return
	}
	var src uint64
	if mem {
		src = uint64(f.host.Read32(a)) | uint64(f.host.Read32(a.Add(4)))<<32
	} else {
		src = f.mm(rm)
	}
	f.setMM(reg, op(f.mm(reg), src))
}

// mm reads MMn, the mantissa of physical slot n. TOP plays no part.
func (f *FPU_X87) mm(n int) uint64 {
	return f.regs[n&7].Mant
}

func (f *FPU_X87) setMM(n int, v uint64) {
	f.regs[n&7] = Ext80{Mant: v, SignExp: mmxSignExp}
}

func lanes8(d, s uint64, fn func(a, b uint8) uint8) uint64 {
	var r uint64
	for i := 0; i < 64; i += 8 {
		r |= uint64(fn(uint8(d>>i), uint8(s>>i))) << i
	}
	return r
}

func lanes16(d, s uint64, fn func(a, b uint16) uint16) uint64 {
	var r uint64
	for i := 0; i < 64; i += 16 {
		r |= uint64(fn(uint16(d>>i), uint16(s>>i))) << i
	}
	return r
}

func lanes32(d, s uint64, fn func(a, b uint32) uint32) uint64 {
	return uint64(fn(uint32(d), uint32(s))) | uint64(fn(uint32(d>>32), uint32(s>>32)))<<32
}

// shiftCount is the low byte of the source operand.
func shiftCount(s uint64) uint {
	return uint(s & 0xFF)
}

func shift16(d, s uint64, fn func(a uint16, n uint) uint16) uint64 {
	n := shiftCount(s)
	return lanes16(d, 0, func(a, _ uint16) uint16 { return fn(a, n) })
}

func shift32(d, s uint64, fn func(a uint32, n uint) uint32) uint64 {
	n := shiftCount(s)
	return lanes32(d, 0, func(a, _ uint32) uint32 { return fn(a, n) })
}

func satS8(v int) uint8 {
	return uint8(int8(max(min(v, 127), -128)))
}

func satU8(v int) uint8 {
	return uint8(max(min(v, 255), 0))
}

func satS16(v int) uint16 {
	return uint16(int16(max(min(v, 32767), -32768)))
}

func satU16(v int) uint16 {
	return uint16(max(min(v, 65535), 0))
}

func mask8(b bool) uint8 {
	if b {
		return 0xFF
	}
	return 0
}

func mask16(b bool) uint16 {
	if b {
		return 0xFFFF
	}
	return 0
}

func mask32(b bool) uint32 {
	if b {
		return 0xFFFFFFFF
	}
	return 0
}

func paddb(d, s uint64) uint64 {
	return lanes8(d, s, func(a, b uint8) uint8 { return a + b })
}

func paddw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return a + b })
}

func paddd(d, s uint64) uint64 {
	return lanes32(d, s, func(a, b uint32) uint32 { return a + b })
}

func paddsb(d, s uint64) uint64 {
	return lanes8(d, s, func(a, b uint8) uint8 { return satS8(int(int8(a)) + int(int8(b))) })
}

func paddsw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return satS16(int(int16(a)) + int(int16(b))) })
}

func paddusb(d, s uint64) uint64 {
	return lanes8(d, s, func(a, b uint8) uint8 { return satU8(int(a) + int(b)) })
}

func paddusw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return satU16(int(a) + int(b)) })
}

func psubb(d, s uint64) uint64 {
	return lanes8(d, s, func(a, b uint8) uint8 { return a - b })
}

func psubw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return a - b })
}

func psubd(d, s uint64) uint64 {
	return lanes32(d, s, func(a, b uint32) uint32 { return a - b })
}

func psubsb(d, s uint64) uint64 {
	return lanes8(d, s, func(a, b uint8) uint8 { return satS8(int(int8(a)) - int(int8(b))) })
}

func psubsw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return satS16(int(int16(a)) - int(int16(b))) })
}

func psubusb(d, s uint64) uint64 {
	return lanes8(d, s, func(a, b uint8) uint8 { return satU8(int(a) - int(b)) })
}

func psubusw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return satU16(int(a) - int(b)) })
}

func pmulhw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return uint16((int32(int16(a)) * int32(int16(b))) >> 16) })
}

func pmullw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return a * b })
}

// pmaddwd multiplies signed words and sums adjacent products into dwords.
func pmaddwd(d, s uint64) uint64 {
	prod := func(i uint) int32 {
		return int32(int16(d>>i)) * int32(int16(s>>i))
	}
	lo := uint32(prod(0) + prod(16))
	hi := uint32(prod(32) + prod(48))
	return uint64(lo) | uint64(hi)<<32
}

func pcmpeqb(d, s uint64) uint64 {
	return lanes8(d, s, func(a, b uint8) uint8 { return mask8(a == b) })
}

func pcmpeqw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return mask16(a == b) })
}

func pcmpeqd(d, s uint64) uint64 {
	return lanes32(d, s, func(a, b uint32) uint32 { return mask32(a == b) })
}

func pcmpgtb(d, s uint64) uint64 {
	return lanes8(d, s, func(a, b uint8) uint8 { return mask8(int8(a) > int8(b)) })
}

func pcmpgtw(d, s uint64) uint64 {
	return lanes16(d, s, func(a, b uint16) uint16 { return mask16(int16(a) > int16(b)) })
}

func pcmpgtd(d, s uint64) uint64 {
	return lanes32(d, s, func(a, b uint32) uint32 { return mask32(int32(a) > int32(b)) })
}

func psllw(d, s uint64) uint64 {
	return shift16(d, s, func(a uint16, n uint) uint16 { return a << n })
}

func pslld(d, s uint64) uint64 {
	return shift32(d, s, func(a uint32, n uint) uint32 { return a << n })
}

func psllq(d, s uint64) uint64 { return d << shiftCount(s) }

func psrlw(d, s uint64) uint64 {
	return shift16(d, s, func(a uint16, n uint) uint16 { return a >> n })
}

func psrld(d, s uint64) uint64 {
	return shift32(d, s, func(a uint32, n uint) uint32 { return a >> n })
}

func psrlq(d, s uint64) uint64 { return d >> shiftCount(s) }

// Arithmetic shifts fill with the sign for counts past the lane width.
func psraw(d, s uint64) uint64 {
	return shift16(d, s, func(a uint16, n uint) uint16 { return uint16(int16(a) >> n) })
}

func psrad(d, s uint64) uint64 {
	return shift32(d, s, func(a uint32, n uint) uint32 { return uint32(int32(a) >> n) })
}

func pand(d, s uint64) uint64  { return d & s }
func pandn(d, s uint64) uint64 { return ^d & s }
func por(d, s uint64) uint64   { return d | s }
func pxor(d, s uint64) uint64  { return d ^ s }

func punpcklbw(d, s uint64) uint64 { return unpack(d, s, 8, 0) }
func punpcklwd(d, s uint64) uint64 { return unpack(d, s, 16, 0) }
func punpckldq(d, s uint64) uint64 { return unpack(d, s, 32, 0) }
func punpckhbw(d, s uint64) uint64 { return unpack(d, s, 8, 32) }
func punpckhwd(d, s uint64) uint64 { return unpack(d, s, 16, 32) }
func punpckhdq(d, s uint64) uint64 { return unpack(d, s, 32, 32) }

func packsswb(d, s uint64) uint64 { return pack16to8(d, s, satS8) }
func packuswb(d, s uint64) uint64 { return pack16to8(d, s, satU8) }

func movq(_, s uint64) uint64 { return s }

// unpack interleaves width-bit elements from the 32-bit half of d and s
// starting at bit from: d0 s0 d1 s1 ...
func unpack(d, s uint64, width, from uint) uint64 {
	mask := uint64(1)<<width - 1
	var r uint64
	out := uint(0)
	for i := from; i < from+32; i += width {
		r |= (d >> i & mask) << out
		r |= (s >> i & mask) << (out + width)
		out += 2 * width
	}
	return r
}

// pack16to8 saturates the four words of d then s into eight bytes.
func pack16to8(d, s uint64, sat func(int) uint8) uint64 {
	var r uint64
	for i := uint(0); i < 4; i++ {
		r |= uint64(sat(int(int16(d>>(16*i))))) << (8 * i)
		r |= uint64(sat(int(int16(s>>(16*i))))) << (8 * (i + 4))
	}
	return r
}

func packssdw(d, s uint64) uint64 {
	var r uint64
	for i := uint(0); i < 2; i++ {
		r |= uint64(satS16(int(int32(d>>(32*i))))) << (16 * i)
		r |= uint64(satS16(int(int32(s>>(32*i))))) << (16 * (i + 2))
	}
	return r
}
