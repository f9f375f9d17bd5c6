// Package rvlog is a minimal io.Writer-backed logger.
//
// It intentionally carries no dependency on a structured logging
// library: the components that log (the sync orchestrator and the
// cmd/rv binary) take a *Logger instead of writing to a package-level
// global.
package rvlog

import (
	"fmt"
	"io"
	"os"
)

// Logger wraps an io.Writer with a couple of formatting conveniences.
type Logger struct {
	io.Writer
}

// New returns a new Logger which writes to w.
func New(w io.Writer) *Logger {
	return &Logger{Writer: w}
}

// Discard returns a Logger that drops everything written to it.
func Discard() *Logger {
	return New(io.Discard)
}

// Stderr returns a Logger writing to os.Stderr.
func Stderr() *Logger {
	return New(os.Stderr)
}

// Logln logs a line.
func (l *Logger) Logln(args ...interface{}) {
	if l == nil {
		return
	}
	fmt.Fprintln(l, args...)
}

// Logf logs a formatted string, without a trailing newline.
func (l *Logger) Logf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	fmt.Fprintf(l, format, args...)
}

// LogRvfln logs a formatted line, prefixed with "rv: " and newline-terminated.
func (l *Logger) LogRvfln(format string, args ...interface{}) {
	if l == nil {
		return
	}
	fmt.Fprintf(l, "rv: "+format+"\n", args...)
}
