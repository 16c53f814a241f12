// fpu_x87_helpers_test.go - Shared rig for driving the unit through the flat machine
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const (
	testCodeBase = 0x1000
	testDataBase = 0x2000
	testMemSize  = 1 << 16
)

// Control words used across the tests: every exception masked, extended
// precision, one per rounding mode.
const (
	fcwNearest = uint16(0x037F)
	fcwDown    = uint16(0x077F)
	fcwUp      = uint16(0x0B7F)
	fcwChop    = uint16(0x0F7F)
)

type x87Rig struct {
	m    *FlatMachine
	f    *FPU_X87
	hook *logtest.Hook
}

func newX87Rig(t *testing.T, model Model) *x87Rig {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := NewFlatMachine(testMemSize)
	return &x87Rig{
		m:    m,
		f:    NewFPU_X87(Config{Model: model, Logger: logger}, m),
		hook: hook,
	}
}

// exec runs code placed at testCodeBase until EIP reaches its end.
func (r *x87Rig) exec(t *testing.T, code ...byte) {
	t.Helper()
	r.m.LoadBytes(testCodeBase, code)
	r.m.EIP = testCodeBase
	end := uint32(testCodeBase + len(code))
	_, err := r.m.Run(r.f, end, len(code))
	require.NoError(t, err)
	require.Equal(t, end, r.m.EIP, "execution stopped early")
}

// load replaces the stack, ST0 first.
func (r *x87Rig) load(t *testing.T, stack ...Ext80) {
	t.Helper()
	if stack == nil {
		stack = []Ext80{}
	}
	require.NoError(t, VectorState{Stack: stack}.Apply(r.f, r.m))
}

func (r *x87Rig) setFCW(v uint16) {
	r.f.SetRegister("FCW", uint64(v))
}

func (r *x87Rig) st(i int) Ext80 { return r.f.Snapshot().ST(i) }
func (r *x87Rig) fsw() uint16    { return r.f.StoreStatusWord() }
func (r *x87Rig) top() int       { return r.f.Snapshot().Top() }

// depth counts the occupied slots from ST0 up to the first empty one.
func (r *x87Rig) depth() int {
	s := r.f.Snapshot()
	n := 0
	for ; n < 8; n++ {
		phys := (s.Top() + n) & 7
		if (s.FTW>>(2*phys))&3 == x87TagEmpty {
			break
		}
	}
	return n
}

func (r *x87Rig) write16(addr uint32, v uint16) { r.m.Write16(Address{Offset: addr}, v) }
func (r *x87Rig) write32(addr uint32, v uint32) { r.m.Write32(Address{Offset: addr}, v) }
func (r *x87Rig) read16(addr uint32) uint16     { return r.m.Read16(Address{Offset: addr}) }
func (r *x87Rig) read32(addr uint32) uint32     { return r.m.Read32(Address{Offset: addr}) }

func (r *x87Rig) write64(addr uint32, v uint64) {
	r.write32(addr, uint32(v))
	r.write32(addr+4, uint32(v>>32))
}

func (r *x87Rig) read64(addr uint32) uint64 {
	return uint64(r.read32(addr)) | uint64(r.read32(addr+4))<<32
}

// mem encodes an escape opcode with a 32-bit absolute operand
// (mod=00 rm=101 disp32).
func mem(op byte, reg int, addr uint32) []byte {
	return []byte{op, byte(reg<<3 | 5), byte(addr), byte(addr >> 8), byte(addr >> 16), byte(addr >> 24)}
}

// code joins instruction encodings.
func code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func ext(v float64) Ext80 {
	return Ext80FromFloat64(v)
}

func excBits(fsw uint16) uint16 {
	return fsw & (x87FSW_ExcMask | x87FSW_SF)
}

func condBits(fsw uint16) uint16 {
	return fsw & x87FSW_CondAll
}
