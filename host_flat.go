// host_flat.go - Flat-memory reference host: byte memory, GPRs, ModR/M decode
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"errors"
	"fmt"
)

// General register numbering as encoded in ModR/M.
const (
	RegEAX = iota
	RegECX
	RegEDX
	RegEBX
	RegESP
	RegEBP
	RegESI
	RegEDI
)

const (
	prefixOperandSize = 0x66
	prefixAddressSize = 0x67
	opFWAIT           = 0x9B
	opTwoByte         = 0x0F
)

// Default selectors. Every segment base is zero.
const (
	flatSelectorCS = uint16(0x08)
	flatSelectorDS = uint16(0x10)
	flatSelectorSS = uint16(0x18)
)

var ErrUnsupportedOpcode = errors.New("opcode outside the x87/MMX set")

// FlatMachine is a minimal CPU core around one FPU: unsegmented byte memory
// that wraps at its size, eight GPRs, EFLAGS and CS:EIP. It decodes prefixes
// and ModR/M/SIB itself and hands escape and MMX opcodes to the unit.
type FlatMachine struct {
	Mem    []byte
	GPR    [8]uint32
	EFLAGS uint32
	CS     uint16
	EIP    uint32

	// Mode16 selects 16-bit default operand and address size.
	Mode16 bool

	// CoprocessorErrors counts RaiseCoprocessorError calls.
	CoprocessorErrors int

	instCS  uint16
	instIP  uint32
	modrm   byte
	ea      Address
	opSize  bool
	adSize  bool
	segOver int
}

func NewFlatMachine(memSize int) *FlatMachine {
	return &FlatMachine{
		Mem:     make([]byte, memSize),
		CS:      flatSelectorCS,
		segOver: -1,
	}
}

func (m *FlatMachine) wrap(addr uint32) int {
	return int(addr % uint32(len(m.Mem)))
}

// LoadBytes copies b into memory at addr.
func (m *FlatMachine) LoadBytes(addr uint32, b []byte) {
	for i, v := range b {
		m.Mem[m.wrap(addr+uint32(i))] = v
	}
}

func (m *FlatMachine) Bytes(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = m.Mem[m.wrap(addr+uint32(i))]
	}
	return out
}

// Memory

func (m *FlatMachine) Read8(a Address) uint8 {
	return m.Mem[m.wrap(a.Linear())]
}

func (m *FlatMachine) Read16(a Address) uint16 {
	return uint16(m.Read8(a)) | uint16(m.Read8(a.Add(1)))<<8
}

func (m *FlatMachine) Read32(a Address) uint32 {
	return uint32(m.Read16(a)) | uint32(m.Read16(a.Add(2)))<<16
}

func (m *FlatMachine) Write8(a Address, v uint8) {
	m.Mem[m.wrap(a.Linear())] = v
}

func (m *FlatMachine) Write16(a Address, v uint16) {
	m.Write8(a, byte(v))
	m.Write8(a.Add(1), byte(v>>8))
}

func (m *FlatMachine) Write32(a Address, v uint32) {
	m.Write16(a, uint16(v))
	m.Write16(a.Add(2), uint16(v>>16))
}

// Operand

func (m *FlatMachine) ModRM() byte               { return m.modrm }
func (m *FlatMachine) IsRegister() bool          { return m.modrm>>6 == 3 }
func (m *FlatMachine) OperandSize32() bool       { return m.opSize }
func (m *FlatMachine) EffectiveAddress() Address { return m.ea }

// Registers

func (m *FlatMachine) AX() uint16               { return uint16(m.GPR[RegEAX]) }
func (m *FlatMachine) SetAX(v uint16)           { m.GPR[RegEAX] = m.GPR[RegEAX]&^0xFFFF | uint32(v) }
func (m *FlatMachine) Reg32(i int) uint32       { return m.GPR[i&7] }
func (m *FlatMachine) SetReg32(i int, v uint32) { m.GPR[i&7] = v }
func (m *FlatMachine) Flags() uint32            { return m.EFLAGS }
func (m *FlatMachine) SetFlags(v uint32)        { m.EFLAGS = v }
func (m *FlatMachine) InstructionPointer() (uint16, uint32) {
	return m.instCS, m.instIP
}

// Interrupts

func (m *FlatMachine) RaiseCoprocessorError() {
	m.CoprocessorErrors++
}

func (m *FlatMachine) fetch8() byte {
	v := m.Mem[m.wrap(m.EIP)]
	m.EIP++
	return v
}

func (m *FlatMachine) fetch16() uint16 {
	lo := m.fetch8()
	return uint16(lo) | uint16(m.fetch8())<<8
}

func (m *FlatMachine) fetch32() uint32 {
	lo := m.fetch16()
	return uint32(lo) | uint32(m.fetch16())<<16
}

// Step executes the instruction at CS:EIP and returns its length. FWAIT
// polls for a pending coprocessor error; anything that is not FWAIT, an
// escape opcode or an MMX opcode is ErrUnsupportedOpcode.
func (m *FlatMachine) Step(f *FPU_X87) (int, error) {
	m.instCS, m.instIP = m.CS, m.EIP
	m.opSize = !m.Mode16
	m.adSize = !m.Mode16
	m.segOver = -1

	op := m.fetch8()
	for m.prefix(op) {
		op = m.fetch8()
	}
	switch {
	case op == opFWAIT:
		f.CheckPendingException()
	case op >= 0xD8 && op <= 0xDF:
		m.decodeModRM()
		f.DispatchFPU(op)
	case op == opTwoByte:
		op2 := m.fetch8()
		if !isMMXOpcode(op2) {
			return m.fail(op2)
		}
		if op2 != mmxOpEMMS {
			m.decodeModRM()
		}
		f.DispatchMMX(op2)
	default:
		return m.fail(op)
	}
	return int(m.EIP - m.instIP), nil
}

// prefix applies op if it is a size or segment prefix.
func (m *FlatMachine) prefix(op byte) bool {
	switch op {
	case prefixOperandSize:
		m.opSize = m.Mode16
	case prefixAddressSize:
		m.adSize = m.Mode16
	case 0x26, 0x2E, 0x36, 0x3E, 0x64, 0x65:
		m.segOver = int(op)
	default:
		return false
	}
	return true
}

func (m *FlatMachine) fail(op byte) (int, error) {
	n := int(m.EIP - m.instIP)
	m.EIP = m.instIP
	return n, fmt.Errorf("%04X:%08X: %02X: %w", m.instCS, m.instIP, op, ErrUnsupportedOpcode)
}

// Run steps until EIP reaches end or limit instructions have executed.
func (m *FlatMachine) Run(f *FPU_X87, end uint32, limit int) (int, error) {
	n := 0
	for m.EIP != end && n < limit {
		if _, err := m.Step(f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// isMMXOpcode covers the 0F 60-7F and 0F D1-FF blocks, less 0F 70-73.
// Those carry an imm8 after the ModR/M byte, which the unit has no
// handler for.
func isMMXOpcode(op byte) bool {
	if op >= 0x70 && op <= 0x73 {
		return false
	}
	return (op >= 0x60 && op <= 0x7F) || op >= 0xD1
}

func (m *FlatMachine) decodeModRM() {
	m.modrm = m.fetch8()
	m.ea = Address{}
	if m.modrm>>6 == 3 {
		return
	}
	var off uint32
	ss := false
	if m.adSize {
		off, ss = m.effectiveAddress32()
	} else {
		off, ss = m.effectiveAddress16()
	}
	sel := flatSelectorDS
	if ss {
		sel = flatSelectorSS
	}
	if m.segOver >= 0 {
		sel = m.overrideSelector()
	}
	m.ea = Address{Selector: sel, Offset: off}
}

func (m *FlatMachine) overrideSelector() uint16 {
	switch m.segOver {
	case 0x2E:
		return m.CS
	case 0x36:
		return flatSelectorSS
	}
	return flatSelectorDS
}

// effectiveAddress16 reports whether the default segment is SS.
func (m *FlatMachine) effectiveAddress16() (uint32, bool) {
	mod := m.modrm >> 6
	bx, bp := uint16(m.GPR[RegEBX]), uint16(m.GPR[RegEBP])
	si, di := uint16(m.GPR[RegESI]), uint16(m.GPR[RegEDI])

	var base uint16
	ss := false
	switch m.modrm & 7 {
	case 0:
		base = bx + si
	case 1:
		base = bx + di
	case 2:
		base, ss = bp+si, true
	case 3:
		base, ss = bp+di, true
	case 4:
		base = si
	case 5:
		base = di
	case 6:
		if mod == 0 {
			base = m.fetch16()
		} else {
			base, ss = bp, true
		}
	case 7:
		base = bx
	}
	switch mod {
	case 1:
		base = uint16(int16(base) + int16(int8(m.fetch8())))
	case 2:
		base += m.fetch16()
	}
	return uint32(base), ss
}

func (m *FlatMachine) effectiveAddress32() (uint32, bool) {
	mod := m.modrm >> 6
	rm := m.modrm & 7

	var addr uint32
	ss := false
	switch {
	case rm == 4:
		sib := m.fetch8()
		scale, index, base := sib>>6, (sib>>3)&7, sib&7
		if base == 5 && mod == 0 {
			addr = m.fetch32()
		} else {
			addr = m.GPR[base]
			ss = base == RegESP || base == RegEBP
		}
		if index != 4 {
			addr += m.GPR[index] << scale
		}
	case rm == 5 && mod == 0:
		addr = m.fetch32()
	default:
		addr = m.GPR[rm]
		ss = rm == RegEBP
	}
	switch mod {
	case 1:
		addr = uint32(int32(addr) + int32(int8(m.fetch8())))
	case 2:
		addr += m.fetch32()
	}
	return addr, ss
}
