// host.go - Contracts the execution unit consumes from the surrounding CPU core
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

// Host flag bits read by FCMOVcc and written by FCOMI/FUCOMI.
const (
	FlagCF = uint32(1 << 0)
	FlagPF = uint32(1 << 2)
	FlagZF = uint32(1 << 6)
)

// Address is a segment-relative location: the selector is kept for the
// diagnostic pointers, Base is the descriptor base already resolved by the
// host, Offset is the effective address within the segment.
type Address struct {
	Selector uint16
	Base     uint32
	Offset   uint32
}

// Add returns the address n bytes further into the same segment.
func (a Address) Add(n uint32) Address {
	a.Offset += n
	return a
}

// Linear is Base+Offset with 32-bit wraparound.
func (a Address) Linear() uint32 {
	return a.Base + a.Offset
}

type Memory interface {
	Read8(a Address) uint8
	Read16(a Address) uint16
	Read32(a Address) uint32
	Write8(a Address, v uint8)
	Write16(a Address, v uint16)
	Write32(a Address, v uint32)
}

// Operand is the decode context for the instruction being executed. The
// host has already fetched the ModR/M byte and any SIB/displacement.
type Operand interface {
	ModRM() byte
	IsRegister() bool
	OperandSize32() bool
	EffectiveAddress() Address
}

type Registers interface {
	AX() uint16
	SetAX(v uint16)
	Reg32(i int) uint32
	SetReg32(i int, v uint32)
	Flags() uint32
	SetFlags(v uint32)
	// InstructionPointer returns CS:EIP of the instruction being executed.
	InstructionPointer() (cs uint16, eip uint32)
}

type Interrupts interface {
	RaiseCoprocessorError()
}

// Host bundles everything one emulated CPU core provides to its FPU.
type Host interface {
	Memory
	Operand
	Registers
	Interrupts
}

// Logger is the diagnostic sink. *logrus.Logger and *logrus.Entry satisfy it.
type Logger interface {
	Warnf(format string, args ...any)
	Debugf(format string, args ...any)
}
