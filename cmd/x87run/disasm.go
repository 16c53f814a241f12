// disasm.go - disasm subcommand: list code bytes as instructions
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type disasmOptions struct {
	mode16 bool
	gnu    bool
	origin uint32
}

func newDisasmCommand(*options) *cobra.Command {
	opts := &disasmOptions{}
	cmd := &cobra.Command{
		Use:   "disasm HEX...",
		Short: "Disassemble code bytes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseHex(args)
			if err != nil {
				return err
			}
			writeListing(cmd.OutOrStdout(), code, opts)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.mode16, "mode16", false, "decode with 16-bit defaults")
	cmd.Flags().BoolVar(&opts.gnu, "gnu", false, "AT&T syntax instead of Intel")
	cmd.Flags().Uint32Var(&opts.origin, "origin", 0, "address of the first byte")
	return cmd
}

func writeListing(w io.Writer, code []byte, opts *disasmOptions) {
	for off := 0; off < len(code); {
		pc := opts.origin + uint32(off)
		text, n := disassemble(code[off:], uint64(pc), decodeMode(opts.mode16), opts.gnu)
		fmt.Fprintf(w, "0x%08x: %-24s %s\n", pc, hexBytes(code[off:off+n]), text)
		off += n
	}
}
