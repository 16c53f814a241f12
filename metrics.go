// metrics.go - Execution counters and their Prometheus collector
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Counters are monotonic totals since construction. Reinitialize does not
// reset them.
type Counters struct {
	Instructions     uint64 `yaml:"instructions"`
	MMXInstructions  uint64 `yaml:"mmx_instructions"`
	Undefined        uint64 `yaml:"undefined"`
	StackFaults      uint64 `yaml:"stack_faults"`
	FDIVErrata       uint64 `yaml:"fdiv_errata"`
	FISTErrata       uint64 `yaml:"fist_errata"`
	ExceptionsRaised uint64 `yaml:"exceptions_raised"`
}

func (f *FPU_X87) Counters() Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Collector exports the counters of one unit. Each scrape takes a fresh
// copy under the unit's lock.
type Collector struct {
	fpu *FPU_X87

	instructions *prometheus.Desc
	undefined    *prometheus.Desc
	stackFaults  *prometheus.Desc
	errata       *prometheus.Desc
	exceptions   *prometheus.Desc
	mmxActive    *prometheus.Desc
}

// NewCollector describes f's counters. The model is attached as a constant
// label so several emulated processors can share one registry when the
// caller adds a distinguishing label of its own.
func NewCollector(f *FPU_X87, constLabels prometheus.Labels) *Collector {
	labels := prometheus.Labels{"model": f.Model().String()}
	for k, v := range constLabels {
		labels[k] = v
	}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("x87", "", name), help, variable, labels)
	}
	return &Collector{
		fpu:          f,
		instructions: desc("instructions_total", "Instructions dispatched, by instruction set.", "isa"),
		undefined:    desc("undefined_opcodes_total", "Encodings with no defined behaviour."),
		stackFaults:  desc("stack_faults_total", "Stack overflow and underflow events."),
		errata:       desc("errata_total", "Results altered by a modelled processor erratum.", "erratum"),
		exceptions:   desc("coprocessor_errors_total", "Coprocessor errors delivered to the host."),
		mmxActive:    desc("mmx_active", "1 while the register file is in MMX mode."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.instructions
	ch <- c.undefined
	ch <- c.stackFaults
	ch <- c.errata
	ch <- c.exceptions
	ch <- c.mmxActive
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.fpu.Counters()
	mmx := 0.0
	if c.fpu.MMXActive() {
		mmx = 1
	}
	ch <- prometheus.MustNewConstMetric(c.instructions, prometheus.CounterValue, float64(s.Instructions), "x87")
	ch <- prometheus.MustNewConstMetric(c.instructions, prometheus.CounterValue, float64(s.MMXInstructions), "mmx")
	ch <- prometheus.MustNewConstMetric(c.undefined, prometheus.CounterValue, float64(s.Undefined))
	ch <- prometheus.MustNewConstMetric(c.stackFaults, prometheus.CounterValue, float64(s.StackFaults))
	ch <- prometheus.MustNewConstMetric(c.errata, prometheus.CounterValue, float64(s.FDIVErrata), "fdiv")
	ch <- prometheus.MustNewConstMetric(c.errata, prometheus.CounterValue, float64(s.FISTErrata), "fist")
	ch <- prometheus.MustNewConstMetric(c.exceptions, prometheus.CounterValue, float64(s.ExceptionsRaised))
	ch <- prometheus.MustNewConstMetric(c.mmxActive, prometheus.GaugeValue, mmx)
}
