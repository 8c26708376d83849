// Package logging wraps zerolog with the connector's level set and forwards
// Warning and above to the alert dispatcher. Logging never blocks the caller.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unkuseni/rs-smm-v2/internal/notify"
)

// Logger is the leveled logger handed to every component.
type Logger struct {
	z        zerolog.Logger
	notifier *notify.Dispatcher
}

// New creates a logger writing human-readable lines to w. level is one of
// debug, info, warn, error; unknown values default to info. notifier may be
// nil.
func New(w io.Writer, level string, notifier *notify.Dispatcher) *Logger {
	if w == nil {
		w = os.Stdout
	}
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "info":
		lvl = zerolog.InfoLevel
	case "warn", "warning":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMilli}
	z := zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
	return &Logger{z: z, notifier: notifier}
}

// With returns a child logger tagged with a component name.
func (l *Logger) With(component string) *Logger {
	return &Logger{
		z:        l.z.With().Str("component", component).Logger(),
		notifier: l.notifier,
	}
}

// Success logs an info-level line marking a completed operation.
func (l *Logger) Success(format string, args ...any) {
	l.z.Info().Bool("ok", true).Msgf(format, args...)
}

// Info logs an informational line.
func (l *Logger) Info(format string, args ...any) {
	l.z.Info().Msgf(format, args...)
}

// Debug logs a line visible only at debug level.
func (l *Logger) Debug(format string, args ...any) {
	l.z.Debug().Msgf(format, args...)
}

// Warning logs and forwards the line to the notifier.
func (l *Logger) Warning(format string, args ...any) {
	l.z.Warn().Msgf(format, args...)
	l.alert("WARNING", format, args...)
}

// Error logs and forwards the line to the notifier.
func (l *Logger) Error(format string, args ...any) {
	l.z.Error().Msgf(format, args...)
	l.alert("ERROR", format, args...)
}

// Critical logs at error level with a critical marker and forwards the line
// to the notifier. Unlike zerolog's Fatal it does not exit the process;
// remediation is the supervisor's call.
func (l *Logger) Critical(format string, args ...any) {
	l.z.Error().Bool("critical", true).Msgf(format, args...)
	l.alert("CRITICAL", format, args...)
}

func (l *Logger) alert(level, format string, args ...any) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(level + " | " + fmt.Sprintf(format, args...))
}

// Discard returns a logger that drops everything; used in tests.
func Discard() *Logger {
	return &Logger{z: zerolog.Nop()}
}
