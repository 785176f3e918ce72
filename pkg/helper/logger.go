package helper

import (
	"fmt"
	"io"
)

// Logger writes diagnostics to an underlying stream (always stderr in
// practice — stdout is reserved for the protocol), gated by a verbosity
// level set through the "option verbosity <n>" command. Negative verbosity
// is git's convention for "quiet": warnings are suppressed, matching how
// git itself treats the option on every other remote helper.
type Logger struct {
	w     io.Writer
	level int
}

// NewLogger returns a Logger at the default verbosity (0: warnings shown,
// nothing more verbose).
func NewLogger(w io.Writer) *Logger {
	return &Logger{w: w}
}

// SetLevel updates the verbosity level from an "option verbosity" command.
func (l *Logger) SetLevel(level int) {
	l.level = level
}

// Warnf writes a warning line unless verbosity has been set negative.
func (l *Logger) Warnf(format string, args ...any) {
	if l.level < 0 {
		return
	}
	fmt.Fprintf(l.w, "warning: "+format+"\n", args...)
}
