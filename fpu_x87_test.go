// fpu_x87_test.go - Register stack, tag word and exception summary tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareFPU() *FPU_X87 {
	return NewFPU_X87(Config{Model: Model486}, NewFlatMachine(testMemSize))
}

func TestX87_Init(t *testing.T) {
	f := newBareFPU()
	if f.fcw != 0x037F {
		t.Fatalf("FCW = 0x%04X, want 0x037F", f.fcw)
	}
	if f.fsw != 0 {
		t.Fatalf("FSW = 0x%04X, want 0", f.fsw)
	}
	if f.ftw != 0xFFFF {
		t.Fatalf("FTW = 0x%04X, want 0xFFFF", f.ftw)
	}
	if f.top() != 0 {
		t.Fatalf("TOP = %d, want 0", f.top())
	}
	if f.MMXActive() {
		t.Fatalf("MMX mode active after construction")
	}
}

func TestX87_PushPopAndIndexing(t *testing.T) {
	f := newBareFPU()
	f.push(ext(1))
	f.push(ext(2))
	f.push(ext(3))
	if f.top() != 5 {
		t.Fatalf("TOP = %d, want 5", f.top())
	}
	if f.st(0) != ext(3) || f.st(1) != ext(2) || f.st(2) != ext(1) {
		t.Fatalf("unexpected ST order: ST0=%v ST1=%v ST2=%v", f.st(0), f.st(1), f.st(2))
	}
	for _, want := range []float64{3, 2, 1} {
		if got := f.pop(); got != ext(want) {
			t.Fatalf("pop = %v, want %v", got, want)
		}
	}
	if f.ftw != 0xFFFF || f.top() != 0 {
		t.Fatalf("after popping everything FTW=0x%04X TOP=%d", f.ftw, f.top())
	}
	if f.fsw&x87FSW_IE != 0 {
		t.Fatalf("balanced push/pop raised IE, FSW=0x%04X", f.fsw)
	}
}

func TestX87_NinthPushOverflows(t *testing.T) {
	f := newBareFPU()
	for i := 0; i < 8; i++ {
		f.push(Ext80FromInt64(int64(i)))
	}
	ftw := f.ftw
	f.push(ext(9))

	want := x87FSW_IE | x87FSW_SF | x87FSW_C1
	if f.fsw&want != want {
		t.Fatalf("overflow flags FSW=0x%04X", f.fsw)
	}
	if f.top() != 0 {
		t.Fatalf("overflow moved TOP to %d", f.top())
	}
	if f.st(0) != Ext80FromInt64(7) {
		t.Fatalf("overflow overwrote ST0 with %v", f.st(0))
	}
	if f.ftw != ftw {
		t.Fatalf("overflow changed FTW 0x%04X -> 0x%04X", ftw, f.ftw)
	}
	if f.Counters().StackFaults != 1 {
		t.Fatalf("StackFaults = %d, want 1", f.Counters().StackFaults)
	}
}

func TestX87_PopFromEmptyUnderflows(t *testing.T) {
	f := newBareFPU()
	f.fsw |= x87FSW_C1

	v := f.pop()
	if v != ext80Indefinite {
		t.Fatalf("pop from empty = %04X:%016X, want the real indefinite", v.SignExp, v.Mant)
	}
	if f.fsw&(x87FSW_IE|x87FSW_SF) != x87FSW_IE|x87FSW_SF {
		t.Fatalf("underflow flags FSW=0x%04X", f.fsw)
	}
	if f.fsw&x87FSW_C1 != 0 {
		t.Fatalf("underflow should clear C1, FSW=0x%04X", f.fsw)
	}
	if f.top() != 1 {
		t.Fatalf("pop from empty left TOP at %d, want 1", f.top())
	}
}

func TestX87_IndexedReadFromEmpty(t *testing.T) {
	f := newBareFPU()
	f.push(ext(1))

	v := f.st(3)
	require.Equal(t, ext80Indefinite, v)
	assert.Equal(t, x87FSW_IE|x87FSW_SF, f.fsw&(x87FSW_IE|x87FSW_SF))
	assert.Equal(t, 7, f.top(), "indexed read moved TOP")
	assert.Equal(t, x87TagEmpty, f.tagOf(3), "indexed read changed the tag")
	assert.Equal(t, ext(1), f.st(0))
}

func TestX87_TagWordClassification(t *testing.T) {
	tests := []struct {
		name string
		v    Ext80
		tag  uint16
	}{
		{"one", ext(1), x87TagValid},
		{"negative", ext(-1e300), x87TagValid},
		{"zero", ext80Zero(false), x87TagZero},
		{"negative zero", ext80Zero(true), x87TagZero},
		{"infinity", ext80Inf(false), x87TagSpecial},
		{"nan", ext80Indefinite, x87TagSpecial},
		{"denormal", Ext80{Mant: 1}, x87TagSpecial},
		{"unnormal", Ext80{Mant: 1, SignExp: 0x4000}, x87TagSpecial},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newBareFPU()
			f.push(tc.v)
			if got := f.tagOf(0); got != tc.tag {
				t.Fatalf("tag = %s, want %s", x87TagNames[got], x87TagNames[tc.tag])
			}
			f.setST(0, ext(2))
			if got := f.tagOf(0); got != x87TagValid {
				t.Fatalf("rewrite left tag %s", x87TagNames[got])
			}
		})
	}
}

func TestX87_UnmaskedExceptionSetsSummary(t *testing.T) {
	r := newX87Rig(t, Model486)
	r.setFCW(0x037E)

	r.f.mu.Lock()
	r.f.pop()
	r.f.mu.Unlock()

	fsw := r.fsw()
	if fsw&(x87FSW_ES|x87FSW_B) != x87FSW_ES|x87FSW_B {
		t.Fatalf("unmasked IE should set ES and B, FSW=0x%04X", fsw)
	}
	require.True(t, r.f.CheckPendingException())
	require.Equal(t, 1, r.m.CoprocessorErrors)
	require.Equal(t, uint64(1), r.f.Counters().ExceptionsRaised)
}

func TestX87_MaskedExceptionIsNotPending(t *testing.T) {
	r := newX87Rig(t, Model486)
	r.f.mu.Lock()
	r.f.pop()
	r.f.mu.Unlock()

	require.Zero(t, r.fsw()&x87FSW_ES)
	require.False(t, r.f.CheckPendingException())
	require.Zero(t, r.m.CoprocessorErrors)
}

func TestX87_LoadingControlWordRecomputesSummary(t *testing.T) {
	r := newX87Rig(t, Model486)
	r.f.SetRegister("FSW", uint64(x87FSW_PE))
	require.Zero(t, r.fsw()&x87FSW_ES)

	r.setFCW(0x035F)
	assert.Equal(t, x87FSW_ES|x87FSW_B, r.fsw()&(x87FSW_ES|x87FSW_B))

	r.setFCW(fcwNearest)
	assert.Zero(t, r.fsw()&(x87FSW_ES|x87FSW_B))
}

func TestX87_ReinitializeKeepsRegisters(t *testing.T) {
	f := newBareFPU()
	f.push(ext(1.5))
	f.fcw = 0x0C7F
	f.fsw |= x87FSW_PE

	f.Reinitialize()
	s := f.Snapshot()
	assert.Equal(t, uint16(0x037F), s.FCW)
	assert.Equal(t, uint16(0), s.FSW)
	assert.Equal(t, uint16(0xFFFF), s.FTW)
	assert.Equal(t, ext(1.5), s.Regs[7], "FNINIT must not clear the register contents")
}

func TestX87_FNINITAndFNCLEX(t *testing.T) {
	r := newX87Rig(t, Model486)
	r.load(t, ext(1))
	r.f.SetRegister("FSW", 0xF8A1)

	r.exec(t, 0xDB, 0xE2) // FNCLEX
	require.Equal(t, uint16(0x7800), r.fsw())

	r.setFCW(fcwChop)
	r.exec(t, 0xDB, 0xE3) // FNINIT
	require.Equal(t, uint16(0), r.fsw())
	require.Equal(t, uint16(0xFFFF), r.f.TagWord())
	require.Equal(t, fcwNearest, r.f.ControlWord())
}
