// Package logging wraps go-kit/log behind the thin Info/Error/Debug surface
// the teacher repository threads through its application and server layers,
// without depending on CometBFT's own logger wrapper.
package logging

import (
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the narrow surface every package logs through.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

type kitLogger struct {
	base kitlog.Logger
}

// New builds a logfmt logger writing to stderr, with caller-friendly
// timestamps, mirroring the teacher's node-startup logger construction.
func New() Logger {
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	base = kitlog.With(base, "ts", kitlog.DefaultTimestampUTC)
	return &kitLogger{base: base}
}

func (l *kitLogger) Debug(msg string, keyvals ...interface{}) {
	_ = level.Debug(l.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

func (l *kitLogger) Info(msg string, keyvals ...interface{}) {
	_ = level.Info(l.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

func (l *kitLogger) Error(msg string, keyvals ...interface{}) {
	_ = level.Error(l.base).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

func (l *kitLogger) With(keyvals ...interface{}) Logger {
	return &kitLogger{base: kitlog.With(l.base, keyvals...)}
}

// Nop is a logger that discards everything, used in tests.
func Nop() Logger {
	return &kitLogger{base: kitlog.NewNopLogger()}
}
