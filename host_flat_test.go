// host_flat_test.go - Reference host decode: prefixes, ModR/M, SIB, run loop
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepFLD runs one FLD m32 whose ModR/M tail is rm and reports the data
// pointer it recorded.
func stepFLD(t *testing.T, mode16 bool, regs map[int]uint32, prefix []byte, rm ...byte) (Address, int) {
	t.Helper()
	r := newX87Rig(t, Model486)
	r.m.Mode16 = mode16
	for i, v := range regs {
		r.m.GPR[i] = v
	}
	r.m.LoadBytes(testCodeBase, code(prefix, []byte{0xD9}, rm))
	r.m.EIP = testCodeBase
	n, err := r.m.Step(r.f)
	require.NoError(t, err)
	s := r.f.Snapshot()
	return Address{Selector: s.FDS, Offset: s.FDP}, n
}

func TestFlatMachine_EffectiveAddress32(t *testing.T) {
	tests := []struct {
		name string
		regs map[int]uint32
		rm   []byte
		want Address
	}{
		{"disp32", nil, []byte{0x05, 0x78, 0x56, 0x34, 0x12}, Address{Selector: flatSelectorDS, Offset: 0x12345678}},
		{"eax", map[int]uint32{RegEAX: 0x2000}, []byte{0x00}, Address{Selector: flatSelectorDS, Offset: 0x2000}},
		{"ebp disp8", map[int]uint32{RegEBP: 0x3000}, []byte{0x45, 0x08}, Address{Selector: flatSelectorSS, Offset: 0x3008}},
		{"sib scaled", map[int]uint32{RegEBP: 0x3000, RegECX: 3}, []byte{0x44, 0x8D, 0xF0}, Address{Selector: flatSelectorSS, Offset: 0x2FFC}},
		{"sib disp32 no base", map[int]uint32{RegESP: 0x9999}, []byte{0x04, 0x25, 0x00, 0x40, 0x00, 0x00}, Address{Selector: flatSelectorDS, Offset: 0x4000}},
		{"esp disp32", map[int]uint32{RegESP: 0x8000}, []byte{0x84, 0x24, 0x10, 0x00, 0x00, 0x00}, Address{Selector: flatSelectorSS, Offset: 0x8010}},
		{"sib ebx plus esi", map[int]uint32{RegEBX: 0x100, RegESI: 0x20}, []byte{0x04, 0x33}, Address{Selector: flatSelectorDS, Offset: 0x120}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, n := stepFLD(t, false, tc.regs, nil, tc.rm...)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, 1+len(tc.rm), n)
		})
	}
}

func TestFlatMachine_EffectiveAddress16(t *testing.T) {
	tests := []struct {
		name string
		regs map[int]uint32
		rm   []byte
		want Address
	}{
		{"disp16", nil, []byte{0x06, 0x34, 0x12}, Address{Selector: flatSelectorDS, Offset: 0x1234}},
		{"bx+si", map[int]uint32{RegEBX: 0x1000, RegESI: 0x0200}, []byte{0x00}, Address{Selector: flatSelectorDS, Offset: 0x1200}},
		{"bp+si-2", map[int]uint32{RegEBP: 0x0400, RegESI: 0x0010}, []byte{0x42, 0xFE}, Address{Selector: flatSelectorSS, Offset: 0x040E}},
		{"bx+disp16 wraps", map[int]uint32{RegEBX: 0xF800}, []byte{0x87, 0x00, 0x10}, Address{Selector: flatSelectorDS, Offset: 0x0800}},
		{"bp+disp8", map[int]uint32{RegEBP: 0x0500}, []byte{0x46, 0x04}, Address{Selector: flatSelectorSS, Offset: 0x0504}},
		{"high register bits ignored", map[int]uint32{RegEDI: 0xABCD0010}, []byte{0x05}, Address{Selector: flatSelectorDS, Offset: 0x0010}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, n := stepFLD(t, true, tc.regs, nil, tc.rm...)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, 1+len(tc.rm), n)
		})
	}
}

func TestFlatMachine_Prefixes(t *testing.T) {
	got, n := stepFLD(t, false, nil, []byte{0x67}, 0x06, 0x34, 0x12)
	assert.Equal(t, Address{Selector: flatSelectorDS, Offset: 0x1234}, got, "67 selects 16-bit addressing")
	assert.Equal(t, 5, n)

	got, _ = stepFLD(t, false, map[int]uint32{RegEBP: 0x3000}, []byte{0x2E}, 0x45, 0x00)
	assert.Equal(t, flatSelectorCS, got.Selector)

	got, _ = stepFLD(t, false, map[int]uint32{RegEAX: 0x3000}, []byte{0x36}, 0x00)
	assert.Equal(t, flatSelectorSS, got.Selector)

	got, _ = stepFLD(t, false, map[int]uint32{RegEBP: 0x3000}, []byte{0x3E}, 0x45, 0x00)
	assert.Equal(t, flatSelectorDS, got.Selector)
}

func TestFlatMachine_UnsupportedOpcode(t *testing.T) {
	progs := [][]byte{
		{0x90},
		{0x0F, 0x05},
		{0x66, 0xC3},
		{0x0F, 0x70, 0xC1, 0x1B}, // PSHUFW mm0, mm1, imm8
		{0x0F, 0x71, 0xD0, 0x02}, // PSRLW mm0, 2
		{0x0F, 0x72, 0xE0, 0x04}, // PSRAD mm0, 4
		{0x0F, 0x73, 0xF0, 0x08}, // PSLLQ mm0, 8
	}
	for _, prog := range progs {
		m := NewFlatMachine(testMemSize)
		f := NewFPU_X87(Config{Model: Model486}, m)
		m.LoadBytes(testCodeBase, prog)
		m.EIP = testCodeBase

		_, err := m.Step(f)
		require.ErrorIs(t, err, ErrUnsupportedOpcode, "% X", prog)
		assert.Equal(t, uint32(testCodeBase), m.EIP, "EIP moved past % X", prog)
		assert.False(t, f.MMXActive(), "% X entered MMX mode", prog)
	}
}

func TestFlatMachine_MemoryWraps(t *testing.T) {
	m := NewFlatMachine(testMemSize)
	m.LoadBytes(testMemSize-1, []byte{0x11, 0x22})
	assert.Equal(t, byte(0x11), m.Mem[testMemSize-1])
	assert.Equal(t, byte(0x22), m.Mem[0])
	assert.Equal(t, uint16(0x2211), m.Read16(Address{Offset: testMemSize - 1}))

	m.Write32(Address{Offset: testMemSize - 2}, 0xAABBCCDD)
	assert.Equal(t, []byte{0xDD, 0xCC, 0xBB, 0xAA}, m.Bytes(testMemSize-2, 4))
}

func TestFlatMachine_RunStopsAtLimit(t *testing.T) {
	r := newX87Rig(t, Model486)
	prog := []byte{0xD9, 0xE8, 0xD9, 0xE8, 0xD9, 0xE8}
	r.m.LoadBytes(testCodeBase, prog)
	r.m.EIP = testCodeBase

	n, err := r.m.Run(r.f, testCodeBase+uint32(len(prog)), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint32(testCodeBase+4), r.m.EIP)
	assert.Equal(t, 2, r.depth())
}

func TestFlatMachine_FWAITStep(t *testing.T) {
	r := newX87Rig(t, Model486)
	r.m.LoadBytes(testCodeBase, []byte{0x9B})
	r.m.EIP = testCodeBase
	n, err := r.m.Step(r.f)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, r.m.CoprocessorErrors)
}
