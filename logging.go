// logging.go - logrus construction for embedders and the command-line tool
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package fpux87

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Log output formats accepted by NewLogger.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// NewLogger builds a logrus logger writing to w at the named level.
func NewLogger(w io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	switch format {
	case "", LogFormatText:
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case LogFormatJSON:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return l, nil
}

// WithUnit tags every message from one unit with its model, so output from
// several emulated processors can be told apart.
func WithUnit(l *logrus.Logger, m Model, name string) Logger {
	return l.WithFields(logrus.Fields{"model": m.String(), "unit": name})
}
