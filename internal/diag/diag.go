// Package diag provides gated progress logging for the CLI layer. It is
// not used by internal/engine, which reports outcomes through return
// values only, never a logging side-channel.
package diag

import (
	"fmt"
	"io"
)

// Logger writes verbose progress messages to an underlying writer (Stderr
// in normal CLI use) only when Verbose is enabled.
type Logger struct {
	Out     io.Writer
	Verbose bool
}

// New creates a Logger writing to out.
func New(out io.Writer, verbose bool) *Logger {
	return &Logger{Out: out, Verbose: verbose}
}

// Logf writes a formatted message if the logger is verbose. Trailing
// newline is added if missing.
func (l *Logger) Logf(format string, args ...any) {
	if l == nil || !l.Verbose {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	fmt.Fprint(l.Out, msg)
}
