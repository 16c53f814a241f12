// output.go - Register tables, YAML state dumps and instruction trace lines
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/intuitionamiga/fpux87"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/term"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

// resolveOutput picks a table for terminals and YAML for pipes unless the
// user asked for one explicitly.
func resolveOutput(requested string, w io.Writer) (string, error) {
	switch requested {
	case outputTable, outputYAML:
		return requested, nil
	case "":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return outputTable, nil
		}
		return outputYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q", requested)
}

func writeRegisters(w io.Writer, regs []fpux87.RegisterInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Register", "Value", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT})
	for _, r := range regs {
		table.Append([]string{r.Name, fmt.Sprintf("%0*X", (r.BitWidth+3)/4, r.Value), r.Text})
	}
	table.Render()
}

func writeState(w io.Writer, format string, f *fpux87.FPU_X87) error {
	if format == outputTable {
		writeRegisters(w, f.Registers())
		return nil
	}
	return f.Snapshot().WriteYAML(w)
}

// disassemble decodes one instruction for display. Bytes the decoder does
// not accept come back as a db line of length 1.
func disassemble(code []byte, pc uint64, mode int, gnu bool) (string, int) {
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return fmt.Sprintf("db 0x%02x", code[0]), 1
	}
	if gnu {
		return x86asm.GNUSyntax(inst, pc, nil), inst.Len
	}
	return x86asm.IntelSyntax(inst, pc, nil), inst.Len
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, " ")
}

func decodeMode(mode16 bool) int {
	if mode16 {
		return 16
	}
	return 32
}
