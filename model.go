// model.go - Emulated processor generation and errata gates
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"errors"
	"fmt"
	"strings"
)

// Model selects the processor generation the unit reproduces. It is fixed at
// construction and decides which opcodes exist and which errata are active.
type Model int

const (
	Model8086 Model = iota
	Model286
	Model386
	Model486
	Model586 // Pentium: FDIV erratum
	Model686 // Pentium Pro / II: FCMOVcc, FCOMI, FIST erratum
)

// ErrUnknownModel is returned by ParseModel for names it does not recognise.
var ErrUnknownModel = errors.New("unknown processor model")

var modelNames = map[Model]string{
	Model8086: "8086",
	Model286:  "286",
	Model386:  "386",
	Model486:  "486",
	Model586:  "586",
	Model686:  "686",
}

func (m Model) String() string {
	if s, ok := modelNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// ParseModel accepts "86".."686", "8086", "80486", "i586", "pentium" and
// "pentiumpro" style names.
func ParseModel(s string) (Model, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.TrimPrefix(n, "i")
	n = strings.TrimPrefix(n, "80")
	switch n {
	case "86", "8086", "88", "8088":
		return Model8086, nil
	case "286":
		return Model286, nil
	case "386":
		return Model386, nil
	case "486":
		return Model486, nil
	case "586", "pentium", "p5":
		return Model586, nil
	case "686", "pentiumpro", "pentium-pro", "p6":
		return Model686, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownModel, s)
}

// MarshalText lets the model appear by name in YAML vector files and configs.
func (m Model) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Model) UnmarshalText(b []byte) error {
	v, err := ParseModel(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// hasConditionalMoves reports whether FCMOVcc and FCOMI/FUCOMI exist.
func (m Model) hasConditionalMoves() bool {
	return m >= Model686
}

// hasFDIVBug gates the Pentium divide erratum.
func (m Model) hasFDIVBug() bool {
	return m == Model586
}

// hasFISTBug gates the P6 integer-store rounding overflow erratum.
func (m Model) hasFISTBug() bool {
	return m == Model686
}
