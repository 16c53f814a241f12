// exec.go - exec subcommand: run one byte sequence and print the final state
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"

	"github.com/intuitionamiga/fpux87"
	"github.com/spf13/cobra"
)

const execCodeBase = 0x1000

type execOptions struct {
	trace  bool
	mode16 bool
	stack  []string
	mm     []string
	fcw    uint16
	output string
	limit  int
}

func newExecCommand(root *options) *cobra.Command {
	opts := &execOptions{}
	cmd := &cobra.Command{
		Use:   "exec HEX...",
		Short: "Execute x87/MMX code bytes and print the resulting state",
		Example: `  x87run exec D9 E8 D9 E8 DE C1
  x87run exec --st 1.5 --st 2.5 DE C9
  x87run exec --model 586 --trace --st 3145727 --st 4195835 DE F9`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseHex(args)
			if err != nil {
				return err
			}
			return runExec(cmd.OutOrStdout(), root, opts, code)
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&opts.trace, "trace", false, "print every instruction and the stack top as it executes")
	fl.BoolVar(&opts.mode16, "mode16", false, "16-bit default operand and address size")
	fl.StringArrayVar(&opts.stack, "st", nil, "initial stack value, ST0 first (decimal or SSSS:MMMMMMMMMMMMMMMM)")
	fl.StringArrayVar(&opts.mm, "mm", nil, "initial MMn value as n=hex")
	fl.Uint16Var(&opts.fcw, "fcw", 0x037F, "initial control word")
	fl.StringVar(&opts.output, "output", "", "table or yaml (default: table on a terminal)")
	fl.IntVar(&opts.limit, "limit", 1024, "maximum instructions to execute")
	return cmd
}

func runExec(w io.Writer, root *options, opts *execOptions, code []byte) error {
	format, err := resolveOutput(opts.output, w)
	if err != nil {
		return err
	}
	start, err := opts.initialState()
	if err != nil {
		return err
	}

	m, f := root.newMachine(opts.mode16)
	if err := start.Apply(f, m); err != nil {
		return err
	}
	m.LoadBytes(execCodeBase, code)
	m.EIP = execCodeBase
	end := uint32(execCodeBase + len(code))

	for n := 0; m.EIP != end; n++ {
		if n == opts.limit {
			return fmt.Errorf("stopped after %d instructions at %08X", n, m.EIP)
		}
		pc := m.EIP
		text, _ := disassemble(m.Bytes(pc, 16), uint64(pc), decodeMode(opts.mode16), false)
		size, err := m.Step(f)
		if err != nil {
			return err
		}
		if opts.trace {
			st := f.Snapshot()
			fmt.Fprintf(w, "%08X  %-24s %-28s ST0=%s FSW=%04X\n",
				pc, hexBytes(m.Bytes(pc, size)), text, st.ST(0), st.FSW)
		}
		root.log.Debugf("%08X %s", pc, text)
	}
	return writeState(w, format, f)
}

func (opts *execOptions) initialState() (fpux87.VectorState, error) {
	var s fpux87.VectorState
	fcw := opts.fcw
	s.FCW = &fcw
	for _, text := range opts.stack {
		var v fpux87.Ext80
		if err := v.UnmarshalText([]byte(text)); err != nil {
			return s, err
		}
		s.Stack = append(s.Stack, v)
	}
	for _, text := range opts.mm {
		var n int
		var v uint64
		if _, err := fmt.Sscanf(text, "%d=%x", &n, &v); err != nil {
			return s, fmt.Errorf("--mm %q: want n=hex: %w", text, err)
		}
		if s.MM == nil {
			s.MM = make(map[int]uint64)
		}
		s.MM[n] = v
	}
	return s, nil
}
