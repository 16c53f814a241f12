// debug_fpu.go - Register listing and editing for monitors and the trace output
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"fmt"
	"strconv"
	"strings"
)

// RegisterInfo describes a single register for display.
type RegisterInfo struct {
	Name     string // "FCW", "ST0", "MM3"
	BitWidth int    // 16, 32, 64 or 80
	Value    uint64 // the mantissa for 80-bit registers
	Text     string
	Group    string // "control", "pointer", "stack", "mmx"
}

var x87TagNames = [4]string{"valid", "zero", "special", "empty"}

// Registers lists the control words, pointers and the stack in ST order.
// In MMX mode the eight MMn aliases are listed instead of the stack.
func (f *FPU_X87) Registers() []RegisterInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	regs := []RegisterInfo{
		{Name: "FCW", BitWidth: 16, Value: uint64(f.fcw), Group: "control"},
		{Name: "FSW", BitWidth: 16, Value: uint64(f.fsw), Text: fmt.Sprintf("top=%d", f.top()), Group: "control"},
		{Name: "FTW", BitWidth: 16, Value: uint64(f.ftw), Group: "control"},
		{Name: "FOP", BitWidth: 16, Value: uint64(f.fop), Group: "pointer"},
		{Name: "FIP", BitWidth: 32, Value: uint64(f.fip), Text: fmt.Sprintf("%04X:%08X", f.fcs, f.fip), Group: "pointer"},
		{Name: "FDP", BitWidth: 32, Value: uint64(f.fdp), Text: fmt.Sprintf("%04X:%08X", f.fds, f.fdp), Group: "pointer"},
	}
	if f.mmx {
		for n := 0; n < 8; n++ {
			regs = append(regs, RegisterInfo{
				Name:     "MM" + strconv.Itoa(n),
				BitWidth: 64,
				Value:    f.mm(n),
				Group:    "mmx",
			})
		}
		return regs
	}
	for i := 0; i < 8; i++ {
		phys := f.physReg(i)
		v := f.regs[phys]
		regs = append(regs, RegisterInfo{
			Name:     "ST" + strconv.Itoa(i),
			BitWidth: 80,
			Value:    v.Mant,
			Text:     fmt.Sprintf("%s (%s)", v, x87TagNames[f.getTag(phys)]),
			Group:    "stack",
		})
	}
	return regs
}

// Register looks a register up by name, including MM0-MM7 and R0-R7 for
// the physical slots regardless of mode.
func (f *FPU_X87) Register(name string) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := strings.ToUpper(name)
	switch n {
	case "FCW":
		return uint64(f.fcw), true
	case "FSW":
		return uint64(f.fsw), true
	case "FTW":
		return uint64(f.ftw), true
	case "FOP":
		return uint64(f.fop), true
	case "FIP":
		return uint64(f.fip), true
	case "FDP":
		return uint64(f.fdp), true
	case "TOP":
		return uint64(f.top()), true
	}
	if i, ok := registerSlot(n, "ST"); ok {
		return f.regs[f.physReg(i)].Mant, true
	}
	if i, ok := registerSlot(n, "MM"); ok {
		return f.mm(i), true
	}
	if i, ok := registerSlot(n, "R"); ok {
		return f.regs[i].Mant, true
	}
	return 0, false
}

// SetRegister is the monitor's single-register edit. It copies the current
// State, changes one control word, TOP or MMn alias, and loads the result
// through Restore. Stack registers are 80 bits wide and need a full State.
func (f *FPU_X87) SetRegister(name string, value uint64) bool {
	s := f.Snapshot()
	n := strings.ToUpper(name)
	switch n {
	case "FCW":
		s.FCW = uint16(value)
		s.FSW = x87Summary(s.FSW, s.FCW)
	case "FSW":
		s.FSW = x87Summary(uint16(value), s.FCW)
	case "FTW":
		s.FTW = uint16(value)
	case "TOP":
		s.FSW = s.FSW&^x87FSW_TOPMask | uint16(value&7)<<x87FSW_TOPShift
	default:
		i, ok := registerSlot(n, "MM")
		if !ok {
			return false
		}
		s.Regs[i] = Ext80{Mant: value, SignExp: mmxSignExp}
	}
	return f.Restore(s) == nil
}

func registerSlot(name, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || len(rest) != 1 || rest[0] < '0' || rest[0] > '7' {
		return 0, false
	}
	return int(rest[0] - '0'), true
}
