// snapshot.go - Save-state capture and restore for the x87/MMX register file
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	snapshotMagic   = "X87S"
	snapshotVersion = 1
)

// snapshotSize is magic, version, model, mode, then the 28-byte environment
// and eight 10-byte registers.
const snapshotSize = 4 + 4 + x87Save32Size

var (
	ErrSnapshotMagic = errors.New("not an x87 snapshot")
	ErrSnapshotSize  = errors.New("truncated x87 snapshot")
	ErrModelMismatch = errors.New("snapshot taken on a different processor model")
)

// State is a complete copy of the architectural state. Regs is indexed by
// physical slot, not by stack position, so MMn is Regs[n].Mant.
type State struct {
	Model Model    `yaml:"model"`
	FCW   uint16   `yaml:"fcw"`
	FSW   uint16   `yaml:"fsw"`
	FTW   uint16   `yaml:"ftw"`
	FIP   uint32   `yaml:"fip,omitempty"`
	FCS   uint16   `yaml:"fcs,omitempty"`
	FDP   uint32   `yaml:"fdp,omitempty"`
	FDS   uint16   `yaml:"fds,omitempty"`
	FOP   uint16   `yaml:"fop,omitempty"`
	MMX   bool     `yaml:"mmx,omitempty"`
	Regs  [8]Ext80 `yaml:"regs,flow"`
}

// Top is the TOP field of FSW.
func (s State) Top() int {
	return int((s.FSW & x87FSW_TOPMask) >> x87FSW_TOPShift)
}

// ST returns the register at stack position i.
func (s State) ST(i int) Ext80 {
	return s.Regs[(s.Top()+i)&7]
}

func (f *FPU_X87) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return State{
		Model: f.model,
		FCW:   f.fcw,
		FSW:   f.fsw,
		FTW:   f.ftw,
		FIP:   f.fip,
		FCS:   f.fcs,
		FDP:   f.fdp,
		FDS:   f.fds,
		FOP:   f.fop,
		MMX:   f.mmx,
		Regs:  f.regs,
	}
}

// Restore loads s into the unit. The processor model is fixed at
// construction; a snapshot taken on another model is rejected. Restore is
// the only way to edit state outside instruction execution: SetRegister
// for debuggers and VectorState.Apply both build a State and call it.
func (f *FPU_X87) Restore(s State) error {
	if s.Model != f.model {
		return fmt.Errorf("restore %v into %v: %w", s.Model, f.model, ErrModelMismatch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fcw = s.FCW
	f.fsw = s.FSW
	f.ftw = s.FTW
	f.fip = s.FIP
	f.fcs = s.FCS
	f.fdp = s.FDP
	f.fds = s.FDS
	f.fop = s.FOP & 0x7FF
	f.mmx = s.MMX
	f.regs = s.Regs
	return nil
}

// MarshalBinary lays the state out as a little-endian header followed by
// the 32-bit FNSAVE image, registers in physical order.
func (s State) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(snapshotSize)
	buf.WriteString(snapshotMagic)
	buf.WriteByte(snapshotVersion)
	buf.WriteByte(byte(s.Model))
	var mode byte
	if s.MMX {
		mode = 1
	}
	buf.WriteByte(mode)
	buf.WriteByte(0)

	env := [7]uint32{
		uint32(s.FCW),
		uint32(s.FSW),
		uint32(s.FTW),
		s.FIP,
		uint32(s.FCS) | uint32(s.FOP&0x7FF)<<16,
		s.FDP,
		uint32(s.FDS),
	}
	if err := binary.Write(&buf, binary.LittleEndian, env); err != nil {
		return nil, err
	}
	for _, r := range s.Regs {
		b := r.Encode()
		buf.Write(b[:])
	}
	return buf.Bytes(), nil
}

func (s *State) UnmarshalBinary(data []byte) error {
	if len(data) < snapshotSize {
		return fmt.Errorf("%d bytes: %w", len(data), ErrSnapshotSize)
	}
	if string(data[:4]) != snapshotMagic {
		return ErrSnapshotMagic
	}
	if data[4] != snapshotVersion {
		return fmt.Errorf("snapshot version %d: %w", data[4], ErrSnapshotMagic)
	}
	m := Model(data[5])
	if _, ok := modelNames[m]; !ok {
		return fmt.Errorf("model %d: %w", data[5], ErrUnknownModel)
	}

	var env [7]uint32
	r := bytes.NewReader(data[8:])
	if err := binary.Read(r, binary.LittleEndian, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	out := State{
		Model: m,
		FCW:   uint16(env[0]),
		FSW:   uint16(env[1]),
		FTW:   uint16(env[2]),
		FIP:   env[3],
		FCS:   uint16(env[4]),
		FOP:   uint16(env[4]>>16) & 0x7FF,
		FDP:   env[5],
		FDS:   uint16(env[6]),
		MMX:   data[6]&1 != 0,
	}
	for i := range out.Regs {
		var b [10]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return fmt.Errorf("register %d: %w", i, err)
		}
		out.Regs[i] = DecodeExt80(b)
	}
	*s = out
	return nil
}

// WriteYAML emits the state in the text form the vector files use.
func (s State) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

func ReadYAML(r io.Reader) (State, error) {
	var s State
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return s, nil
}
