// metrics_test.go - Counter bookkeeping and the Prometheus collector
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	r := newX87Rig(t, Model586)
	r.load(t, ext(1552), ext(2))
	r.exec(t,
		0xD8, 0xF1, // FDIV ST0, ST1 inside the erratum window
		0xDE, 0xD9, // FCOMPP
		0xD9, 0xE4, // FTST on an empty stack
		0x0F, 0xEF, 0xC0, // PXOR mm0, mm0
	)
	c := r.f.Counters()
	assert.Equal(t, Counters{
		Instructions:    3,
		MMXInstructions: 1,
		StackFaults:     1,
		FDIVErrata:      1,
	}, c)

	r.f.Reinitialize()
	assert.Equal(t, c, r.f.Counters(), "FNINIT leaves the counters")
}

func TestMetrics_StackFaultsPerInstruction(t *testing.T) {
	tests := []struct {
		name  string
		code  []byte
		stack []Ext80
		want  uint64
	}{
		{"FSTP m64 from empty", mem(0xDD, 3, testDataBase), nil, 1},
		{"FSTP ST1 from empty", []byte{0xDD, 0xD9}, nil, 1},
		{"FCOMPP on empty", []byte{0xDE, 0xD9}, nil, 1},
		{"FCOMPP with one operand", []byte{0xDE, 0xD9}, []Ext80{ext(1)}, 1},
		{"two FSTPs from empty", code(mem(0xDD, 3, testDataBase), mem(0xDD, 3, testDataBase)), nil, 2},
		{"FLD1 onto a full stack", []byte{0xD9, 0xE8}, []Ext80{ext(1), ext(2), ext(3), ext(4), ext(5), ext(6), ext(7), ext(8)}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newX87Rig(t, Model486)
			r.load(t, tc.stack...)
			r.exec(t, tc.code...)
			assert.Equal(t, tc.want, r.f.Counters().StackFaults)
		})
	}
}

func TestMetrics_Collector(t *testing.T) {
	r := newX87Rig(t, Model586)
	r.load(t, ext(1552), ext(2))
	r.exec(t, 0xD8, 0xF1, 0xDE, 0xD9, 0xD9, 0xE4)

	c := NewCollector(r.f, prometheus.Labels{"unit": "cpu0"})
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	assert.Equal(t, 8, testutil.CollectAndCount(c))

	const want = `
# HELP x87_errata_total Results altered by a modelled processor erratum.
# TYPE x87_errata_total counter
x87_errata_total{erratum="fdiv",model="586",unit="cpu0"} 1
x87_errata_total{erratum="fist",model="586",unit="cpu0"} 0
# HELP x87_instructions_total Instructions dispatched, by instruction set.
# TYPE x87_instructions_total counter
x87_instructions_total{isa="mmx",model="586",unit="cpu0"} 0
x87_instructions_total{isa="x87",model="586",unit="cpu0"} 3
# HELP x87_stack_faults_total Stack overflow and underflow events.
# TYPE x87_stack_faults_total counter
x87_stack_faults_total{model="586",unit="cpu0"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"x87_errata_total", "x87_instructions_total", "x87_stack_faults_total")
	require.NoError(t, err)
}

func TestMetrics_MMXGaugeAndErrors(t *testing.T) {
	r := newX87Rig(t, Model686)
	c := NewCollector(r.f, nil)

	r.load(t, ext(1), ext80Zero(false))
	r.setFCW(0x037B)
	r.exec(t, 0xD8, 0xF1, 0x9B, 0x0F, 0x77, 0x0F, 0xEF, 0xC0)

	const want = `
# HELP x87_coprocessor_errors_total Coprocessor errors delivered to the host.
# TYPE x87_coprocessor_errors_total counter
x87_coprocessor_errors_total{model="686"} 1
# HELP x87_mmx_active 1 while the register file is in MMX mode.
# TYPE x87_mmx_active gauge
x87_mmx_active{model="686"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want),
		"x87_coprocessor_errors_total", "x87_mmx_active"))
}
