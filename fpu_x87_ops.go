// fpu_x87_ops.go - x87 instruction dispatch for escape opcodes D8-DF
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"math"
	"math/big"
)

// x87Handler executes one decoded instruction. rm is the ModR/M r/m field
// for register forms; a is the effective address for memory forms.
type x87Handler func(f *FPU_X87, rm int, a Address)

// x87OpTable is keyed on (escape&7, memory?, reg). Groups that bundle
// unrelated instructions under one key carry a second table on modrm&7.
type x87OpTable struct {
	ops [128]x87Handler
	sub [128]*[8]x87Handler
}

func x87Index(group byte, mem bool, reg int) int {
	idx := int(group&7)<<4 | reg&7
	if mem {
		idx |= 1 << 3
	}
	return idx
}

func (t *x87OpTable) set(group byte, mem bool, reg int, h x87Handler) {
	t.ops[x87Index(group, mem, reg)] = h
}

func (t *x87OpTable) setSub(group byte, reg, rm int, h x87Handler) {
	idx := x87Index(group, false, reg)
	if t.sub[idx] == nil {
		t.sub[idx] = new([8]x87Handler)
	}
	t.sub[idx][rm&7] = h
}

func (t *x87OpTable) lookup(opcode, modrm byte, mem bool) x87Handler {
	idx := x87Index(opcode, mem, int(modrm>>3))
	if !mem {
		if s := t.sub[idx]; s != nil {
			return s[modrm&7]
		}
	}
	return t.ops[idx]
}

// DispatchFPU executes the x87 instruction whose escape byte is opcode.
// The host's decode context supplies the ModR/M byte and effective address.
func (f *FPU_X87) DispatchFPU(opcode byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	modrm := f.host.ModRM()
	mem := !f.host.IsRegister()
	var a Address
	if mem {
		a = f.host.EffectiveAddress()
	}
	f.captureOp(opcode, modrm, mem, a)
	f.stats.Instructions++
	f.faulted = false

	h := f.ops.lookup(opcode, modrm, mem)
	if h == nil {
		f.stats.Undefined++
		f.log.Warnf("undefined x87 instruction %02X %02X (mod=%d reg=%d rm=%d)",
			opcode, modrm, modrm>>6, (modrm>>3)&7, modrm&7)
		return
	}
	h(f, int(modrm&7), a)
}

// captureOp records FIP/FCS, FOP and FDP/FDS for FNSTENV/FNSAVE. FLDENV,
// FRSTOR and FNINIT run after it and overwrite them.
func (f *FPU_X87) captureOp(opcode, modrm byte, mem bool, a Address) {
	f.fcs, f.fip = f.host.InstructionPointer()
	f.fop = (uint16(opcode&7)<<8 | uint16(modrm)) & 0x7FF
	if mem {
		f.fdp = a.Offset
		f.fds = a.Selector
	} else {
		f.fdp = 0
		f.fds = 0
	}
}

// arith applies the reg-field operation: FADD FMUL - - FSUB FSUBR FDIV FDIVR.
func (f *FPU_X87) arith(op int, x, y Ext80) Ext80 {
	switch op {
	case 0:
		return f.add(x, y)
	case 1:
		return f.mul(x, y)
	case 4:
		return f.sub(x, y)
	case 5:
		return f.sub(y, x)
	case 6:
		return f.div(x, y)
	case 7:
		return f.div(y, x)
	}
	return x
}

var x87ArithOps = []int{0, 1, 4, 5, 6, 7}

// x87ReverseOp maps the D8 reg field onto its DC/DE register-form meaning,
// where the destination is ST(i) and the SUB/SUBR and DIV/DIVR roles swap.
var x87ReverseOp = [8]int{0: 0, 1: 1, 4: 5, 5: 4, 6: 7, 7: 6}

type x87Loader func(f *FPU_X87, a Address) Ext80

func x87ArithST0(op int) x87Handler {
	return func(f *FPU_X87, rm int, _ Address) {
		f.setST(0, f.arith(op, f.st(0), f.st(rm)))
	}
}

func x87ArithSTi(op int, pop bool) x87Handler {
	return func(f *FPU_X87, rm int, _ Address) {
		f.setST(rm, f.arith(x87ReverseOp[op], f.st(rm), f.st(0)))
		if pop {
			f.pop()
		}
	}
}

func x87ArithMem(op int, load x87Loader) x87Handler {
	return func(f *FPU_X87, _ int, a Address) {
		f.setST(0, f.arith(op, f.st(0), load(f, a)))
	}
}

func x87CompareST(pops int, quiet bool) x87Handler {
	return func(f *FPU_X87, rm int, _ Address) {
		f.compare(f.st(0), f.st(rm), quiet)
		for i := 0; i < pops; i++ {
			f.pop()
		}
	}
}

func x87CompareMem(pop bool, load x87Loader) x87Handler {
	return func(f *FPU_X87, _ int, a Address) {
		f.compare(f.st(0), load(f, a), false)
		if pop {
			f.pop()
		}
	}
}

// x87CompareFlags is FCOMI/FUCOMI with an optional pop.
func x87CompareFlags(quiet, pop bool) x87Handler {
	return func(f *FPU_X87, rm int, _ Address) {
		f.setCompareFlags(f.compareValues(f.st(0), f.st(rm), quiet))
		if pop {
			f.pop()
		}
	}
}

func x87Load(load x87Loader) x87Handler {
	return func(f *FPU_X87, _ int, a Address) {
		f.push(load(f, a))
	}
}

func x87Store(store func(f *FPU_X87, a Address, v Ext80), pop bool) x87Handler {
	return func(f *FPU_X87, _ int, a Address) {
		store(f, a, f.st(0))
		if pop {
			f.pop()
		}
	}
}

// x87StoreInt is FIST/FISTP (rounding by RC, erratum-gated) or FISTTP
// (truncating, always pops).
func x87StoreInt(width int, pop, truncate bool) x87Handler {
	return func(f *FPU_X87, _ int, a Address) {
		mode := f.roundingMode()
		if truncate {
			mode = big.ToZero
		}
		f.storeInt(a, f.st(0), width, mode, !truncate)
		if pop {
			f.pop()
		}
	}
}

// x87CondMove is FCMOVcc; when is evaluated against the host flags.
func x87CondMove(when func(flags uint32) bool) x87Handler {
	return func(f *FPU_X87, rm int, _ Address) {
		src := f.st(rm)
		if when(f.host.Flags()) {
			f.setST(0, src)
		}
	}
}

func x87Nop(*FPU_X87, int, Address) {}

func fxch(f *FPU_X87, rm int, _ Address) {
	a, b := f.st(0), f.st(rm)
	f.setST(0, b)
	f.setST(rm, a)
	f.fsw &^= x87FSW_C1
}

func fstSTi(f *FPU_X87, rm int, _ Address) {
	f.setST(rm, f.st(0))
}

func fstpSTi(f *FPU_X87, rm int, _ Address) {
	f.setSTPop(rm, f.st(0))
}

func ffree(f *FPU_X87, rm int, _ Address) {
	f.setTag(f.physReg(rm), x87TagEmpty)
}

// ffreep frees ST(i) and bumps TOP without an underflow check.
func ffreep(f *FPU_X87, rm int, _ Address) {
	f.setTag(f.physReg(rm), x87TagEmpty)
	f.setTop(f.top() + 1)
}

// trigRanged wraps FPTAN/FSIN/FCOS/FSINCOS: out-of-range operands set C2
// and leave the stack alone.
func trigRanged(body func(f *FPU_X87, x Ext80)) x87Handler {
	return func(f *FPU_X87, _ int, _ Address) {
		x := f.st(0)
		if trigOutOfRange(x) {
			f.fsw |= x87FSW_C2
			return
		}
		f.fsw &^= x87FSW_C2
		body(f, x)
	}
}

func newX87OpTable(m Model) *x87OpTable {
	t := &x87OpTable{}

	// D8: m32real and ST(0) <- ST(0) op ST(i)
	for _, op := range x87ArithOps {
		t.set(0, false, op, x87ArithST0(op))
		t.set(0, true, op, x87ArithMem(op, (*FPU_X87).loadFloat32))
	}
	t.set(0, false, 2, x87CompareST(0, false))
	t.set(0, false, 3, x87CompareST(1, false))
	t.set(0, true, 2, x87CompareMem(false, (*FPU_X87).loadFloat32))
	t.set(0, true, 3, x87CompareMem(true, (*FPU_X87).loadFloat32))

	// D9
	t.set(1, true, 0, x87Load((*FPU_X87).loadFloat32))
	t.set(1, true, 2, x87Store((*FPU_X87).storeFloat32, false))
	t.set(1, true, 3, x87Store((*FPU_X87).storeFloat32, true))
	t.set(1, true, 4, func(f *FPU_X87, _ int, a Address) { f.fldenv(a, f.host.OperandSize32()) })
	t.set(1, true, 5, func(f *FPU_X87, _ int, a Address) {
		f.fcw = f.host.Read16(a)
		f.updateSummary()
	})
	t.set(1, true, 6, func(f *FPU_X87, _ int, a Address) { f.fnstenv(a, f.host.OperandSize32()) })
	t.set(1, true, 7, func(f *FPU_X87, _ int, a Address) { f.host.Write16(a, f.fcw) })

	t.set(1, false, 0, func(f *FPU_X87, rm int, _ Address) { f.push(f.st(rm)) })
	t.set(1, false, 1, fxch)
	t.setSub(1, 2, 0, x87Nop) // FNOP
	t.set(1, false, 3, fstpSTi)

	t.setSub(1, 4, 0, func(f *FPU_X87, _ int, _ Address) { // FCHS
		f.setST(0, f.st(0).Neg())
		f.fsw &^= x87FSW_C1
	})
	t.setSub(1, 4, 1, func(f *FPU_X87, _ int, _ Address) { // FABS
		f.setST(0, f.st(0).Abs())
		f.fsw &^= x87FSW_C1
	})
	t.setSub(1, 4, 4, func(f *FPU_X87, _ int, _ Address) { // FTST
		f.compare(f.st(0), ext80Zero(false), false)
	})
	t.setSub(1, 4, 5, func(f *FPU_X87, _ int, _ Address) { // FXAM
		top := f.top()
		f.xam(f.regs[top], f.getTag(top) == x87TagEmpty)
	})
	for i := range x87ConstTable {
		c := x87ConstTable[i]
		t.setSub(1, 5, i, func(f *FPU_X87, _ int, _ Address) { f.push(c) })
	}

	t.setSub(1, 6, 0, func(f *FPU_X87, _ int, _ Address) { f.setST(0, f.f2xm1(f.st(0))) })
	t.setSub(1, 6, 1, func(f *FPU_X87, _ int, _ Address) { f.setSTPop(1, f.fyl2x(f.st(0), f.st(1))) })
	t.setSub(1, 6, 2, trigRanged(func(f *FPU_X87, x Ext80) { // FPTAN
		f.setST(0, f.trig(x, math.Tan))
		f.push(ext80One)
	}))
	t.setSub(1, 6, 3, func(f *FPU_X87, _ int, _ Address) { f.setSTPop(1, f.fpatan(f.st(0), f.st(1))) })
	t.setSub(1, 6, 4, func(f *FPU_X87, _ int, _ Address) { // FXTRACT
		exp, sig := f.fxtract(f.st(0))
		f.setST(0, exp)
		f.push(sig)
	})
	t.setSub(1, 6, 5, func(f *FPU_X87, _ int, _ Address) {
		f.setST(0, f.partialRemainder(f.st(0), f.st(1), true))
	})
	t.setSub(1, 6, 6, func(f *FPU_X87, _ int, _ Address) { // FDECSTP
		f.setTop(f.top() - 1)
		f.fsw &^= x87FSW_C1
	})
	t.setSub(1, 6, 7, func(f *FPU_X87, _ int, _ Address) { // FINCSTP
		f.setTop(f.top() + 1)
		f.fsw &^= x87FSW_C1
	})

	t.setSub(1, 7, 0, func(f *FPU_X87, _ int, _ Address) {
		f.setST(0, f.partialRemainder(f.st(0), f.st(1), false))
	})
	t.setSub(1, 7, 1, func(f *FPU_X87, _ int, _ Address) { f.setSTPop(1, f.fyl2xp1(f.st(0), f.st(1))) })
	t.setSub(1, 7, 2, func(f *FPU_X87, _ int, _ Address) { f.setST(0, f.fsqrt(f.st(0))) })
	t.setSub(1, 7, 3, trigRanged(func(f *FPU_X87, x Ext80) { // FSINCOS
		s, c := f.trig(x, math.Sin), f.trig(x, math.Cos)
		f.setST(0, s)
		f.push(c)
	}))
	t.setSub(1, 7, 4, func(f *FPU_X87, _ int, _ Address) { f.setST(0, f.roundToInt(f.st(0))) })
	t.setSub(1, 7, 5, func(f *FPU_X87, _ int, _ Address) { f.setST(0, f.fscale(f.st(0), f.st(1))) })
	t.setSub(1, 7, 6, trigRanged(func(f *FPU_X87, x Ext80) { f.setST(0, f.trig(x, math.Sin)) }))
	t.setSub(1, 7, 7, trigRanged(func(f *FPU_X87, x Ext80) { f.setST(0, f.trig(x, math.Cos)) }))

	// DA: m32int; FUCOMPP
	for _, op := range x87ArithOps {
		t.set(2, true, op, x87ArithMem(op, (*FPU_X87).loadInt32))
	}
	t.set(2, true, 2, x87CompareMem(false, (*FPU_X87).loadInt32))
	t.set(2, true, 3, x87CompareMem(true, (*FPU_X87).loadInt32))
	t.setSub(2, 5, 1, func(f *FPU_X87, _ int, _ Address) {
		f.compare(f.st(0), f.st(1), true)
		f.pop()
		f.pop()
	})

	// DB
	t.set(3, true, 0, x87Load((*FPU_X87).loadInt32))
	t.set(3, true, 1, x87StoreInt(32, true, true))
	t.set(3, true, 2, x87StoreInt(32, false, false))
	t.set(3, true, 3, x87StoreInt(32, true, false))
	t.set(3, true, 5, x87Load((*FPU_X87).loadExt80))
	t.set(3, true, 7, x87Store((*FPU_X87).storeExt80, true))
	// FENI, FDISI and FSETPM are no-ops past the 8087/287
	t.setSub(3, 4, 0, x87Nop)
	t.setSub(3, 4, 1, x87Nop)
	t.setSub(3, 4, 2, func(f *FPU_X87, _ int, _ Address) { f.fsw &^= 0x80FF }) // FNCLEX
	t.setSub(3, 4, 3, func(f *FPU_X87, _ int, _ Address) { f.reinit() })       // FNINIT
	t.setSub(3, 4, 4, x87Nop)

	// DC: m64real and ST(i) <- ST(i) op ST(0)
	for _, op := range x87ArithOps {
		t.set(4, false, op, x87ArithSTi(op, false))
		t.set(4, true, op, x87ArithMem(op, (*FPU_X87).loadFloat64))
	}
	t.set(4, false, 2, x87CompareST(0, false)) // FCOM2
	t.set(4, false, 3, x87CompareST(1, false)) // FCOMP3
	t.set(4, true, 2, x87CompareMem(false, (*FPU_X87).loadFloat64))
	t.set(4, true, 3, x87CompareMem(true, (*FPU_X87).loadFloat64))

	// DD
	t.set(5, true, 0, x87Load((*FPU_X87).loadFloat64))
	t.set(5, true, 1, x87StoreInt(64, true, true))
	t.set(5, true, 2, x87Store((*FPU_X87).storeFloat64, false))
	t.set(5, true, 3, x87Store((*FPU_X87).storeFloat64, true))
	t.set(5, true, 4, func(f *FPU_X87, _ int, a Address) { f.frstor(a, f.host.OperandSize32()) })
	t.set(5, true, 6, func(f *FPU_X87, _ int, a Address) { f.fnsave(a, f.host.OperandSize32()) })
	t.set(5, true, 7, func(f *FPU_X87, _ int, a Address) { f.host.Write16(a, f.fsw) })
	t.set(5, false, 0, ffree)
	t.set(5, false, 1, fxch) // FXCH4
	t.set(5, false, 2, fstSTi)
	t.set(5, false, 3, fstpSTi)
	t.set(5, false, 4, x87CompareST(0, true))
	t.set(5, false, 5, x87CompareST(1, true))

	// DE: m16int and ST(i) <- ST(i) op ST(0), pop
	for _, op := range x87ArithOps {
		t.set(6, false, op, x87ArithSTi(op, true))
		t.set(6, true, op, x87ArithMem(op, (*FPU_X87).loadInt16))
	}
	t.set(6, false, 2, x87CompareST(1, false)) // FCOMP5
	t.setSub(6, 3, 1, x87CompareST(2, false))  // FCOMPP
	t.set(6, true, 2, x87CompareMem(false, (*FPU_X87).loadInt16))
	t.set(6, true, 3, x87CompareMem(true, (*FPU_X87).loadInt16))

	// DF
	t.set(7, true, 0, x87Load((*FPU_X87).loadInt16))
	t.set(7, true, 1, x87StoreInt(16, true, true))
	t.set(7, true, 2, x87StoreInt(16, false, false))
	t.set(7, true, 3, x87StoreInt(16, true, false))
	t.set(7, true, 4, x87Load((*FPU_X87).loadBCD))
	t.set(7, true, 5, x87Load((*FPU_X87).loadInt64))
	t.set(7, true, 6, x87Store((*FPU_X87).storeBCD, true))
	t.set(7, true, 7, x87StoreInt(64, true, false))
	// FXCH7, FSTP8 and FSTP9 are undocumented aliases
	t.set(7, false, 0, ffreep)
	t.set(7, false, 1, fxch)
	t.set(7, false, 2, fstpSTi)
	t.set(7, false, 3, fstpSTi)
	t.setSub(7, 4, 0, func(f *FPU_X87, _ int, _ Address) { f.host.SetAX(f.fsw) }) // FNSTSW AX

	if m.hasConditionalMoves() {
		t.set(2, false, 0, x87CondMove(func(fl uint32) bool { return fl&FlagCF != 0 }))
		t.set(2, false, 1, x87CondMove(func(fl uint32) bool { return fl&FlagZF != 0 }))
		t.set(2, false, 2, x87CondMove(func(fl uint32) bool { return fl&(FlagCF|FlagZF) != 0 }))
		t.set(2, false, 3, x87CondMove(func(fl uint32) bool { return fl&FlagPF != 0 }))
		t.set(3, false, 0, x87CondMove(func(fl uint32) bool { return fl&FlagCF == 0 }))
		t.set(3, false, 1, x87CondMove(func(fl uint32) bool { return fl&FlagZF == 0 }))
		t.set(3, false, 2, x87CondMove(func(fl uint32) bool { return fl&(FlagCF|FlagZF) == 0 }))
		t.set(3, false, 3, x87CondMove(func(fl uint32) bool { return fl&FlagPF == 0 }))
		t.set(3, false, 5, x87CompareFlags(true, false))  // FUCOMI
		t.set(3, false, 6, x87CompareFlags(false, false)) // FCOMI
		t.set(7, false, 5, x87CompareFlags(true, true))   // FUCOMIP
		t.set(7, false, 6, x87CompareFlags(false, true))  // FCOMIP
	}
	return t
}
