// script.go - script subcommand: drive the engine from Lua
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"

	"github.com/intuitionamiga/fpux87"
	"github.com/spf13/cobra"
	lua "github.com/yuin/gopher-lua"
)

const (
	scriptCodeBase = 0x8000
	scriptStepCap  = 1 << 16
)

type scriptOptions struct {
	eval   string
	mode16 bool
	dump   bool
}

func newScriptCommand(root *options) *cobra.Command {
	opts := &scriptOptions{}
	cmd := &cobra.Command{
		Use:   "script [FILE]",
		Short: "Run a Lua script with the engine bound to the x87 table",
		Long: `Run a Lua script against a fresh reference machine. The global x87 table
provides:

  x87.exec(hex)        execute code bytes, returns the instruction count
  x87.st(i)            ST(i) as a number and as its SSSS:MMMMMMMMMMMMMMMM encoding
  x87.mm(n)            MMn as a hex string
  x87.set_mm(n, hex)   write MMn
  x87.fcw() x87.fsw() x87.ftw()
  x87.poke(addr, hex)  write bytes to memory
  x87.peek(addr, n)    read n bytes as hex
  x87.reg(name)        read a GPR ("eax".."edi")
  x87.set_reg(name, v) write a GPR
  x87.reset()          FNINIT`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.eval == "" {
				return fmt.Errorf("need a script file or -e")
			}
			m, f := root.newMachine(opts.mode16)
			L := lua.NewState()
			defer L.Close()
			bindEngine(L, m, f)

			var err error
			if opts.eval != "" {
				err = L.DoString(opts.eval)
			} else {
				err = L.DoFile(args[0])
			}
			if err != nil {
				return err
			}
			if opts.dump {
				return writeState(cmd.OutOrStdout(), outputYAML, f)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.eval, "eval", "e", "", "run this Lua chunk instead of a file")
	cmd.Flags().BoolVar(&opts.mode16, "mode16", false, "16-bit default operand and address size")
	cmd.Flags().BoolVar(&opts.dump, "dump", false, "print the final state as YAML")
	return cmd
}

func bindEngine(L *lua.LState, m *fpux87.FlatMachine, f *fpux87.FPU_X87) {
	tbl := L.NewTable()
	L.SetFuncs(tbl, map[string]lua.LGFunction{
		"exec": func(L *lua.LState) int {
			code := checkHex(L, 1)
			m.LoadBytes(scriptCodeBase, code)
			m.EIP = scriptCodeBase
			n, err := m.Run(f, scriptCodeBase+uint32(len(code)), scriptStepCap)
			if err != nil {
				L.RaiseError("%v", err)
			}
			L.Push(lua.LNumber(n))
			return 1
		},
		"st": func(L *lua.LState) int {
			v := f.Snapshot().ST(L.CheckInt(1) & 7)
			text, _ := v.MarshalText()
			L.Push(lua.LNumber(v.Float64()))
			L.Push(lua.LString(text))
			return 2
		},
		"mm": func(L *lua.LState) int {
			v, _ := f.Register(fmt.Sprintf("MM%d", L.CheckInt(1)&7))
			L.Push(lua.LString(fmt.Sprintf("%016X", v)))
			return 1
		},
		"set_mm": func(L *lua.LState) int {
			var v uint64
			if _, err := fmt.Sscanf(L.CheckString(2), "%x", &v); err != nil {
				L.ArgError(2, err.Error())
			}
			f.SetRegister(fmt.Sprintf("MM%d", L.CheckInt(1)&7), v)
			return 0
		},
		"fcw": func(L *lua.LState) int {
			L.Push(lua.LNumber(f.ControlWord()))
			return 1
		},
		"fsw": func(L *lua.LState) int {
			L.Push(lua.LNumber(f.StoreStatusWord()))
			return 1
		},
		"ftw": func(L *lua.LState) int {
			L.Push(lua.LNumber(f.TagWord()))
			return 1
		},
		"poke": func(L *lua.LState) int {
			m.LoadBytes(uint32(L.CheckInt64(1)), checkHex(L, 2))
			return 0
		},
		"peek": func(L *lua.LState) int {
			b := fpux87.HexBytes(m.Bytes(uint32(L.CheckInt64(1)), L.CheckInt(2)))
			text, _ := b.MarshalText()
			L.Push(lua.LString(text))
			return 1
		},
		"reg": func(L *lua.LState) int {
			i := gprIndex(L, 1)
			L.Push(lua.LNumber(m.GPR[i]))
			return 1
		},
		"set_reg": func(L *lua.LState) int {
			i := gprIndex(L, 1)
			m.GPR[i] = uint32(L.CheckInt64(2))
			return 0
		},
		"reset": func(L *lua.LState) int {
			f.Reinitialize()
			return 0
		},
	})
	L.SetGlobal("x87", tbl)
}

func checkHex(L *lua.LState, n int) []byte {
	var b fpux87.HexBytes
	if err := b.UnmarshalText([]byte(L.CheckString(n))); err != nil {
		L.ArgError(n, err.Error())
	}
	return b
}

var gprNames = map[string]int{
	"eax": fpux87.RegEAX, "ecx": fpux87.RegECX, "edx": fpux87.RegEDX, "ebx": fpux87.RegEBX,
	"esp": fpux87.RegESP, "ebp": fpux87.RegEBP, "esi": fpux87.RegESI, "edi": fpux87.RegEDI,
}

func gprIndex(L *lua.LState, n int) int {
	i, ok := gprNames[L.CheckString(n)]
	if !ok {
		L.ArgError(n, "unknown register")
	}
	return i
}
