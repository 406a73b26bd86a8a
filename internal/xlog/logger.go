// Package xlog wraps logrus behind one shared interface: field injection
// per call, level control at runtime, and no package-level global logger
// passed implicitly through the call stack.
package xlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Fields = logrus.Fields

// Logger is the logging surface every engine component is handed at
// construction time.
type Logger interface {
	WithFields(f Fields) Logger
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	SetLevel(level string)
}

type logger struct {
	e *logrus.Entry
}

// New builds a logger writing JSON lines to w at the given level
// ("debug", "info", "warn", "error"). An invalid level falls back to info.
func New(w io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &logger{e: logrus.NewEntry(l)}
}

// Default returns a logger writing to stderr at info level, used when no
// config has been loaded yet (e.g. while parsing flags).
func Default() Logger {
	return New(os.Stderr, "info")
}

func (l *logger) WithFields(f Fields) Logger {
	return &logger{e: l.e.WithFields(f)}
}

func (l *logger) Debug(args ...interface{}) { l.e.Debug(args...) }
func (l *logger) Info(args ...interface{})  { l.e.Info(args...) }
func (l *logger) Warn(args ...interface{})  { l.e.Warn(args...) }
func (l *logger) Error(args ...interface{}) { l.e.Error(args...) }

func (l *logger) SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	l.e.Logger.SetLevel(lvl)
}
