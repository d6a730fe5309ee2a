package monitoring

import (
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogWriters routes the three analysis log streams. A nil writer
// disables its stream.
//
//   - Ops: actionable warnings, errors, degradations and run lifecycle.
//   - Diag: per-stage summaries and tuning context.
//   - Trace: per-frame and per-event detail.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// WritersForLevel sends every stream at or above level to w. Unknown
// levels behave like "diag".
func WritersForLevel(level string, w io.Writer) LogWriters {
	out := LogWriters{Ops: w, Diag: w}
	switch strings.ToLower(level) {
	case "ops":
		out.Diag = nil
	case "trace":
		out.Trace = w
	}
	return out
}
