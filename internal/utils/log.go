// Package utils holds small leaf helpers shared across the connection core.
// It currently contains only the leveled logger, lifted from quic-go's
// internal/utils package; the connection's timers live in internal/timerset.
package utils

import (
	"fmt"
	"log"
	"os"
)

// LogLevel controls verbosity, mirroring quic-go's QUIC_GO_LOG_LEVEL idiom.
type LogLevel uint8

const (
	LogLevelNothing LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Logger is the leveled sink every component in the core is handed at
// construction time. A nil *Logger is not valid; use NewNopLogger() when
// tests don't care about output.
type Logger struct {
	level  LogLevel
	prefix string
	out    *log.Logger
}

// NewLogger builds a Logger writing to os.Stderr at the given level.
func NewLogger(prefix string, level LogLevel) *Logger {
	return &Logger{level: level, prefix: prefix, out: log.New(os.Stderr, "", log.Lmicroseconds)}
}

// NewNopLogger builds a Logger that discards everything; safe default for tests.
func NewNopLogger() *Logger {
	return &Logger{level: LogLevelNothing, out: log.New(os.Stderr, "", 0)}
}

func (l *Logger) logMessage(level string, format string, args ...interface{}) {
	if l.prefix != "" {
		l.out.Printf("%s [%s] %s", l.prefix, level, fmt.Sprintf(format, args...))
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level >= LogLevelDebug {
		l.logMessage("debug", format, args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level >= LogLevelInfo {
		l.logMessage("info", format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.level >= LogLevelError {
		l.logMessage("error", format, args...)
	}
}

// WithPrefix returns a copy of the logger with an additional prefix, used
// to tag per-connection log lines with the connection ID.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{level: l.level, prefix: prefix, out: l.out}
}
