package vkhelper

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes to three channels: message, warning and error. Debug output sits below message.
// A nil *Logger discards everything.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger builds a logger writing to w. With console set the output is human readable,
// otherwise one JSON object per line.
func NewLogger(w io.Writer, level string, console bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	zl := zerolog.New(w).With().Timestamp().Str("component", "vkhelper").Logger()
	return &Logger{zl: zl.Level(ParseLevel(level))}
}

func NopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// ParseLevel maps debug|info|warn|error|off onto zerolog levels; unknown values mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Message(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.zl.Info().Str("channel", "message").Msgf(format, args...)
}

func (l *Logger) Warning(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.zl.Warn().Str("channel", "warning").Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.zl.Error().Str("channel", "error").Msgf(format, args...)
}

// Driver routes a driver diagnostic to the channel matching its severity.
func (l *Logger) Driver(severity DebugSeverity, layer, message string) {
	switch severity {
	case SeverityVerbose, SeverityInfo:
		l.Message("[%s] %s", layer, message)
	case SeverityWarning:
		l.Warning("[%s] %s", layer, message)
	default:
		l.Error("[%s] %s", layer, message)
	}
}
