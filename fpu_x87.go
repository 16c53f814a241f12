// fpu_x87.go - x87 state: register stack, tag word, control and status words
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	x87TagValid   = uint16(0)
	x87TagZero    = uint16(1)
	x87TagSpecial = uint16(2)
	x87TagEmpty   = uint16(3)
)

const (
	x87FSW_IE       = uint16(1 << 0)
	x87FSW_DE       = uint16(1 << 1)
	x87FSW_ZE       = uint16(1 << 2)
	x87FSW_OE       = uint16(1 << 3)
	x87FSW_UE       = uint16(1 << 4)
	x87FSW_PE       = uint16(1 << 5)
	x87FSW_SF       = uint16(1 << 6)
	x87FSW_ES       = uint16(1 << 7)
	x87FSW_C0       = uint16(1 << 8)
	x87FSW_C1       = uint16(1 << 9)
	x87FSW_C2       = uint16(1 << 10)
	x87FSW_TOPMask  = uint16(7 << 11)
	x87FSW_TOPShift = 11
	x87FSW_C3       = uint16(1 << 14)
	x87FSW_B        = uint16(1 << 15)

	x87FSW_ExcMask = uint16(0x3F)
	x87FSW_CondAll = x87FSW_C0 | x87FSW_C1 | x87FSW_C2 | x87FSW_C3
)

const (
	x87FCW_Default = uint16(0x037F)
	x87FCW_PCShift = 8
	x87FCW_PCMask  = uint16(3 << x87FCW_PCShift)
	x87FCW_RCShift = 10
	x87FCW_RCMask  = uint16(3 << x87FCW_RCShift)
)

const (
	x87FCW_RCNearest = uint16(0)
	x87FCW_RCDown    = uint16(1)
	x87FCW_RCUp      = uint16(2)
	x87FCW_RCChop    = uint16(3)
)

// Config fixes the processor generation and the diagnostic sink for one unit.
type Config struct {
	Model  Model
	Logger Logger
}

// FPU_X87 is the x87/MMX register file and execution state of one emulated
// processor. Exported methods serialise on mu; everything else assumes the
// lock is held.
type FPU_X87 struct {
	mu sync.Mutex

	regs [8]Ext80

	fcw uint16
	fsw uint16
	ftw uint16

	fip uint32
	fcs uint16
	fdp uint32
	fds uint16
	fop uint16

	mmx bool

	model Model
	host  Host
	log   Logger
	ops   *x87OpTable
	stats Counters

	// faulted is set by the first stack fault of the current instruction.
	faulted bool
}

func NewFPU_X87(cfg Config, host Host) *FPU_X87 {
	f := &FPU_X87{
		model: cfg.Model,
		host:  host,
		log:   cfg.Logger,
	}
	if f.log == nil {
		f.log = logrus.StandardLogger()
	}
	f.ops = newX87OpTable(cfg.Model)
	f.reinit()
	return f
}

// Reinitialize restores the power-on control, status and tag words.
// Register contents are left as they are, as FNINIT does.
func (f *FPU_X87) Reinitialize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reinit()
}

func (f *FPU_X87) reinit() {
	f.fcw = x87FCW_Default
	f.fsw = 0
	f.ftw = 0xFFFF
	f.fip = 0
	f.fcs = 0
	f.fdp = 0
	f.fds = 0
	f.fop = 0
	f.mmx = false
}

// CheckPendingException is the FWAIT boundary: when a sticky exception is
// unmasked it asks the host to deliver the coprocessor error and reports true.
func (f *FPU_X87) CheckPendingException() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := f.fsw&x87FSW_ExcMask&^f.fcw != 0
	if f.fsw&x87FSW_SF != 0 && f.fcw&x87FSW_IE == 0 {
		pending = true
	}
	if !pending {
		return false
	}
	f.stats.ExceptionsRaised++
	f.host.RaiseCoprocessorError()
	return true
}

// StoreStatusWord returns the status word the way FNSTSW would.
func (f *FPU_X87) StoreStatusWord() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fsw
}

func (f *FPU_X87) ControlWord() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fcw
}

func (f *FPU_X87) TagWord() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ftw
}

func (f *FPU_X87) MMXActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mmx
}

func (f *FPU_X87) Model() Model {
	return f.model
}

func (f *FPU_X87) top() int {
	return int((f.fsw & x87FSW_TOPMask) >> x87FSW_TOPShift)
}

func (f *FPU_X87) setTop(top int) {
	f.fsw = (f.fsw &^ x87FSW_TOPMask) | (uint16(top&7) << x87FSW_TOPShift)
}

func (f *FPU_X87) physReg(stIdx int) int {
	return (f.top() + stIdx) & 7
}

func (f *FPU_X87) getTag(phys int) uint16 {
	shift := uint((phys & 7) * 2)
	return (f.ftw >> shift) & 0x3
}

func (f *FPU_X87) setTag(phys int, tag uint16) {
	shift := uint((phys & 7) * 2)
	f.ftw &^= 0x3 << shift
	f.ftw |= (tag & 0x3) << shift
}

func (f *FPU_X87) tagOf(i int) uint16 {
	return f.getTag(f.physReg(i))
}

func (f *FPU_X87) stEmpty(i int) bool {
	return f.tagOf(i) == x87TagEmpty
}

func classifyTag(v Ext80) uint16 {
	switch {
	case v.IsZero():
		return x87TagZero
	case v.IsNaN(), v.IsInf(), v.IsDenormal(), v.IsUnsupported():
		return x87TagSpecial
	}
	return x87TagValid
}

// setException records sticky bits and raises the summary when any of them
// is unmasked. SF shares the IE mask.
func (f *FPU_X87) setException(mask uint16) {
	f.fsw |= mask
	if mask&x87FSW_ExcMask&^f.fcw != 0 {
		f.fsw |= x87FSW_ES | x87FSW_B
	}
}

// updateSummary recomputes ES/B after the control or status word was loaded.
func (f *FPU_X87) updateSummary() {
	f.fsw = x87Summary(f.fsw, f.fcw)
}

// x87Summary sets ES and B in fsw when an exception flag is unmasked by fcw.
func x87Summary(fsw, fcw uint16) uint16 {
	if fsw&x87FSW_ExcMask&^fcw != 0 {
		return fsw | x87FSW_ES | x87FSW_B
	}
	return fsw &^ (x87FSW_ES | x87FSW_B)
}

func (f *FPU_X87) clearCond() {
	f.fsw &^= x87FSW_CondAll
}

func (f *FPU_X87) setCond(bit uint16, on bool) {
	if on {
		f.fsw |= bit
	} else {
		f.fsw &^= bit
	}
}

func (f *FPU_X87) stackOverflow() {
	f.setException(x87FSW_IE | x87FSW_SF)
	f.fsw |= x87FSW_C1
	f.countStackFault()
}

func (f *FPU_X87) stackUnderflow() Ext80 {
	f.setException(x87FSW_IE | x87FSW_SF)
	f.fsw &^= x87FSW_C1
	f.countStackFault()
	return ext80Indefinite
}

// countStackFault counts at most one fault per instruction. FSTP from an
// empty ST0 underflows in both the read and the pop.
func (f *FPU_X87) countStackFault() {
	if !f.faulted {
		f.faulted = true
		f.stats.StackFaults++
	}
}

// push stores v in the slot below TOP. An occupied slot is a stack overflow:
// nothing is written and TOP stays put.
func (f *FPU_X87) push(v Ext80) {
	next := (f.top() - 1) & 7
	if f.getTag(next) != x87TagEmpty {
		f.stackOverflow()
		return
	}
	f.setTop(next)
	f.regs[next] = v
	f.setTag(next, classifyTag(v))
}

// pop always advances TOP, even when ST0 was empty.
func (f *FPU_X87) pop() Ext80 {
	top := f.top()
	var v Ext80
	if f.getTag(top) == x87TagEmpty {
		v = f.stackUnderflow()
	} else {
		v = f.regs[top]
		f.setTag(top, x87TagEmpty)
	}
	f.setTop((top + 1) & 7)
	return v
}

// st reads ST(i); an empty slot yields the indefinite and flags underflow
// without touching TOP or the tag.
func (f *FPU_X87) st(i int) Ext80 {
	phys := f.physReg(i)
	if f.getTag(phys) == x87TagEmpty {
		return f.stackUnderflow()
	}
	return f.regs[phys]
}

func (f *FPU_X87) setST(i int, v Ext80) {
	phys := f.physReg(i)
	f.regs[phys] = v
	f.setTag(phys, classifyTag(v))
}

func (f *FPU_X87) setSTPop(i int, v Ext80) {
	f.setST(i, v)
	f.pop()
}

func (f *FPU_X87) roundControl() uint16 {
	return (f.fcw & x87FCW_RCMask) >> x87FCW_RCShift
}

// roundingMode maps FCW.RC onto math/big.
func (f *FPU_X87) roundingMode() big.RoundingMode {
	switch f.roundControl() {
	case x87FCW_RCDown:
		return big.ToNegativeInf
	case x87FCW_RCUp:
		return big.ToPositiveInf
	case x87FCW_RCChop:
		return big.ToZero
	}
	return big.ToNearestEven
}

// precision maps FCW.PC onto significand bits. The reserved encoding 1
// behaves as extended.
func (f *FPU_X87) precision() uint {
	switch (f.fcw & x87FCW_PCMask) >> x87FCW_PCShift {
	case 0:
		return 24
	case 2:
		return 53
	}
	return 64
}

// round re-encodes an exact result under the current PC/RC and records the
// exceptions the rounding produced.
func (f *FPU_X87) round(x *big.Float) Ext80 {
	v, flags := ext80FromBig(x, f.precision(), f.roundingMode())
	if flags != 0 {
		f.setException(flags)
	}
	if flags&x87FSW_PE != 0 && !v.IsZero() && v.Abs().bigFloat().Cmp(new(big.Float).Abs(x)) > 0 {
		f.fsw |= x87FSW_C1
	} else {
		f.fsw &^= x87FSW_C1
	}
	return v
}
