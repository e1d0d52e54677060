// Package logging provides the prefixed line logger injected into the
// bridge components. Output goes to an explicit writer owned by the
// caller, never to the terminal data stream.
package logging

import (
	"fmt"
	"io"
	"sync"

	"github.com/sshpilot/termbridge/pkg/interfaces"
)

// Logger writes "[prefix] LEVEL: message" lines. Debug and info output
// is suppressed unless verbose is set; warnings and errors always go
// through.
type Logger struct {
	mu      sync.Mutex
	writer  io.Writer
	prefix  string
	verbose bool
}

// Ensure Logger implements interfaces.Logger
var _ interfaces.Logger = (*Logger)(nil)

// New creates a logger writing to w with the given prefix.
func New(w io.Writer, prefix string, verbose bool) *Logger {
	return &Logger{
		writer:  w,
		prefix:  prefix,
		verbose: verbose,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return New(io.Discard, "", false)
}

// Silence drops all further output. The agent calls this once the shell
// is up so stray diagnostics can never leak into the caller's stream.
func (l *Logger) Silence() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = io.Discard
}

// Debugf logs at debug level when verbose.
func (l *Logger) Debugf(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.writeLine("DEBUG", format, args...)
}

// Infof logs at info level when verbose.
func (l *Logger) Infof(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.writeLine("INFO", format, args...)
}

// Warnf logs at warning level.
func (l *Logger) Warnf(format string, args ...any) {
	l.writeLine("WARNING", format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.writeLine("ERROR", format, args...)
}

func (l *Logger) writeLine(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		// Best effort - a failed diagnostic write must not fail the caller
		_, _ = fmt.Fprintf(l.writer, "[%s] %s: %s\n", l.prefix, level, msg)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s: %s\n", level, msg)
}
