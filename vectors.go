// vectors.go - YAML single-step vectors: initial state, code bytes, expected final state
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

const (
	vectorMemSize  = 1 << 16
	vectorCodeBase = 0xF000
	vectorStepCap  = 64
)

var vectorRegNames = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

// HexBytes reads and writes byte strings as space-separated hex pairs.
type HexBytes []byte

func (h HexBytes) MarshalText() ([]byte, error) {
	parts := make([]string, len(h))
	for i, b := range h {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return []byte(strings.Join(parts, " ")), nil
}

func (h *HexBytes) UnmarshalText(b []byte) error {
	s := strings.Join(strings.Fields(string(b)), "")
	v, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hex bytes %q: %w", b, err)
	}
	*h = v
	return nil
}

// VectorState is a partial machine state. Absent fields are not set up on
// the way in and not checked on the way out.
type VectorState struct {
	FCW   *uint16 `yaml:"fcw,omitempty"`
	FSW   *uint16 `yaml:"fsw,omitempty"`
	FTW   *uint16 `yaml:"ftw,omitempty"`
	MMX   *bool   `yaml:"mmx,omitempty"`
	Flags *uint32 `yaml:"flags,omitempty"`

	// Stack lists ST0 first. On the way out its length is the stack depth.
	Stack []Ext80 `yaml:"stack,omitempty"`

	MM     map[int]uint64      `yaml:"mm,omitempty"`
	Regs   map[string]uint32   `yaml:"regs,omitempty"`
	Memory map[uint32]HexBytes `yaml:"memory,omitempty"`

	CoprocessorErrors *int `yaml:"coprocessor_errors,omitempty"`
}

type VectorCase struct {
	Name    string      `yaml:"name"`
	Model   *Model      `yaml:"model,omitempty"`
	Code    HexBytes    `yaml:"code"`
	Initial VectorState `yaml:"initial"`
	Final   VectorState `yaml:"final"`
}

// VectorFile is one YAML document: defaults followed by the cases.
type VectorFile struct {
	Model  Model        `yaml:"model"`
	Mode16 bool         `yaml:"mode16,omitempty"`
	Cases  []VectorCase `yaml:"cases"`
}

type VectorResult struct {
	Name  string
	Steps int
	Diff  string
	Err   error
}

func (r VectorResult) Passed() bool {
	return r.Err == nil && r.Diff == ""
}

func LoadVectors(r io.Reader) (*VectorFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var vf VectorFile
	if err := dec.Decode(&vf); err != nil {
		return nil, fmt.Errorf("failed to decode vectors: %w", err)
	}
	return &vf, nil
}

func LoadVectorFile(path string) (*VectorFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector file: %w", err)
	}
	defer file.Close()
	return LoadVectors(file)
}

// Run executes every case on a fresh machine.
func (vf *VectorFile) Run(log Logger) []VectorResult {
	results := make([]VectorResult, 0, len(vf.Cases))
	for _, c := range vf.Cases {
		model := vf.Model
		if c.Model != nil {
			model = *c.Model
		}
		results = append(results, RunVector(c, model, vf.Mode16, log))
	}
	return results
}

// RunVector loads the case's code at a fixed base, applies the initial
// state, steps to the end of the code and diffs the checked fields.
func RunVector(c VectorCase, model Model, mode16 bool, log Logger) VectorResult {
	res := VectorResult{Name: c.Name}

	m := NewFlatMachine(vectorMemSize)
	m.Mode16 = mode16
	f := NewFPU_X87(Config{Model: model, Logger: log}, m)
	if err := c.Initial.Apply(f, m); err != nil {
		res.Err = err
		return res
	}
	m.LoadBytes(vectorCodeBase, c.Code)
	m.EIP = vectorCodeBase

	end := uint32(vectorCodeBase + len(c.Code))
	res.Steps, res.Err = m.Run(f, end, vectorStepCap)
	if res.Err == nil && m.EIP != end {
		res.Err = fmt.Errorf("%s: stopped at %08X after %d steps", c.Name, m.EIP, res.Steps)
	}
	if res.Err != nil {
		return res
	}
	res.Diff = cmp.Diff(c.Final, c.Final.observe(f, m), cmp.Transformer("ext80", ext80Label))
	return res
}

// Apply writes the fields s sets into f and m.
func (s VectorState) Apply(f *FPU_X87, m *FlatMachine) error {
	st := f.Snapshot()
	if s.FCW != nil {
		st.FCW = *s.FCW
	}
	if s.FSW != nil {
		st.FSW = *s.FSW
	}
	if len(s.Stack) > 8 {
		return fmt.Errorf("initial stack holds %d values", len(s.Stack))
	}
	if s.Stack != nil {
		top := (8 - len(s.Stack)) & 7
		st.FSW = st.FSW&^x87FSW_TOPMask | uint16(top)<<x87FSW_TOPShift
		st.FTW = 0xFFFF
		for i, v := range s.Stack {
			phys := (top + i) & 7
			st.Regs[phys] = v
			st.FTW &^= 3 << (2 * phys)
			st.FTW |= classifyTag(v) << (2 * phys)
		}
	}
	for n, v := range s.MM {
		if n < 0 || n > 7 {
			return fmt.Errorf("mm%d out of range", n)
		}
		st.Regs[n] = Ext80{Mant: v, SignExp: mmxSignExp}
	}
	if s.FTW != nil {
		st.FTW = *s.FTW
	}
	if s.MMX != nil {
		st.MMX = *s.MMX
	}
	if err := f.Restore(st); err != nil {
		return err
	}

	for name, v := range s.Regs {
		i := vectorRegIndex(name)
		if i < 0 {
			return fmt.Errorf("unknown register %q", name)
		}
		m.GPR[i] = v
	}
	if s.Flags != nil {
		m.EFLAGS = *s.Flags
	}
	for addr, b := range s.Memory {
		m.LoadBytes(addr, b)
	}
	return nil
}

// observe reads back the fields want checks, shaped like want.
func (want VectorState) observe(f *FPU_X87, m *FlatMachine) VectorState {
	st := f.Snapshot()
	var got VectorState
	if want.FCW != nil {
		got.FCW = &st.FCW
	}
	if want.FSW != nil {
		got.FSW = &st.FSW
	}
	if want.FTW != nil {
		got.FTW = &st.FTW
	}
	if want.MMX != nil {
		got.MMX = &st.MMX
	}
	if want.Flags != nil {
		flags := m.EFLAGS
		got.Flags = &flags
	}
	if want.Stack != nil {
		got.Stack = []Ext80{}
		for i := 0; i < 8; i++ {
			phys := (st.Top() + i) & 7
			if (st.FTW>>(2*phys))&3 == x87TagEmpty {
				break
			}
			got.Stack = append(got.Stack, st.Regs[phys])
		}
	}
	if want.MM != nil {
		got.MM = make(map[int]uint64, len(want.MM))
		for n := range want.MM {
			got.MM[n] = st.Regs[n&7].Mant
		}
	}
	if want.Regs != nil {
		got.Regs = make(map[string]uint32, len(want.Regs))
		for name := range want.Regs {
			if i := vectorRegIndex(name); i >= 0 {
				got.Regs[name] = m.GPR[i]
			}
		}
	}
	if want.Memory != nil {
		got.Memory = make(map[uint32]HexBytes, len(want.Memory))
		for addr, b := range want.Memory {
			got.Memory[addr] = m.Bytes(addr, len(b))
		}
	}
	if want.CoprocessorErrors != nil {
		n := m.CoprocessorErrors
		got.CoprocessorErrors = &n
	}
	return got
}

// ext80Label shows the exact encoding next to the decimal value.
func ext80Label(e Ext80) string {
	return fmt.Sprintf("%04X:%016X %s", e.SignExp, e.Mant, e)
}

func vectorRegIndex(name string) int {
	n := strings.ToLower(name)
	for i, r := range vectorRegNames {
		if r == n {
			return i
		}
	}
	return -1
}

// Summary counts passes and lists failing case names in file order.
func Summary(results []VectorResult) (passed int, failed []string) {
	for _, r := range results {
		if r.Passed() {
			passed++
		} else {
			failed = append(failed, r.Name)
		}
	}
	return passed, failed
}
