// logging_test.go - Logger construction and per-unit fields
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "debug", LogFormatJSON)
	require.NoError(t, err)
	l.Debug("hello")
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	l, err = NewLogger(&buf, "info", "")
	require.NoError(t, err)
	l.Debug("dropped")
	l.Info("hello")
	assert.Equal(t, "level=info msg=hello\n", buf.String())
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "loud", LogFormatText)
	assert.Error(t, err)

	_, err = NewLogger(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"xml"`)
}

func TestWithUnit_TagsEveryMessage(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "warn", LogFormatText)
	require.NoError(t, err)

	m := NewFlatMachine(testMemSize)
	f := NewFPU_X87(Config{Model: Model586, Logger: WithUnit(l, Model586, "cpu0")}, m)
	m.LoadBytes(0, []byte{0xD9, 0xD1})
	_, err = m.Run(f, 2, 1)
	require.NoError(t, err)

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "level=warning")
	assert.Contains(t, line, "model=586")
	assert.Contains(t, line, "unit=cpu0")
	assert.Contains(t, line, "undefined x87 instruction D9 D1")
}
