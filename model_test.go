// model_test.go - Processor model names and errata gates
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModel(t *testing.T) {
	tests := []struct {
		in   string
		want Model
	}{
		{"8086", Model8086},
		{"8088", Model8086},
		{"80286", Model286},
		{"i386", Model386},
		{"486", Model486},
		{" Pentium ", Model586},
		{"i586", Model586},
		{"686", Model686},
		{"PentiumPro", Model686},
		{"p6", Model686},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseModel(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseModel("z80")
	require.ErrorIs(t, err, ErrUnknownModel)
	assert.Contains(t, err.Error(), `"z80"`)
}

func TestModel_Text(t *testing.T) {
	text, err := Model586.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "586", string(text))

	var m Model
	require.NoError(t, m.UnmarshalText([]byte("80486")))
	assert.Equal(t, Model486, m)
	assert.Error(t, m.UnmarshalText([]byte("68000")))

	assert.Equal(t, "Model(42)", Model(42).String())
}

func TestModel_Gates(t *testing.T) {
	for _, m := range []Model{Model8086, Model286, Model386, Model486, Model586, Model686} {
		assert.Equal(t, m == Model586, m.hasFDIVBug(), "FDIV gate on %v", m)
		assert.Equal(t, m == Model686, m.hasFISTBug(), "FIST gate on %v", m)
		assert.Equal(t, m >= Model686, m.hasConditionalMoves(), "FCMOV gate on %v", m)
	}
}
