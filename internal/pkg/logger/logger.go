// Package logger provides structured logging with optional PII redaction
// for recipient addresses. It wraps zerolog so call sites stay on a small
// key-value surface and never import the backend directly.
package logger

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	root      atomic.Pointer[zerolog.Logger]
	redactPII atomic.Bool
)

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	root.Store(&l)
	redactPII.Store(true)
}

// Setup configures the process-wide logger. level is one of debug, info,
// warn, error (unknown values fall back to info). When console is true the
// output is human-readable; otherwise one JSON object per line.
func Setup(level string, console bool) {
	var w io.Writer = os.Stderr
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	l := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	root.Store(&l)
}

// SetRedactPII enables or disables email redaction in log fields.
func SetRedactPII(r bool) { redactPII.Store(r) }

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a named component logger. The component name appears on every
// entry so worker/server/gateway lines are separable in aggregate.
type Logger struct {
	component string
}

// New returns a logger tagged with the given component name.
func New(component string) *Logger {
	return &Logger{component: component}
}

// Debug emits a DEBUG-level entry with alternating key/value fields.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(zerolog.DebugLevel, msg, fields) }

// Info emits an INFO-level entry with alternating key/value fields.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(zerolog.InfoLevel, msg, fields) }

// Warn emits a WARN-level entry with alternating key/value fields.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(zerolog.WarnLevel, msg, fields) }

// Error emits an ERROR-level entry with alternating key/value fields.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l *Logger) log(level zerolog.Level, msg string, fields []interface{}) {
	ev := root.Load().WithLevel(level)
	if l.component != "" {
		ev = ev.Str("component", l.component)
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case string:
			if redactPII.Load() {
				v = redactFieldValue(key, v)
			}
			ev = ev.Str(key, v)
		case error:
			ev = ev.AnErr(key, v)
		case int:
			ev = ev.Int(key, v)
		case int64:
			ev = ev.Int64(key, v)
		case bool:
			ev = ev.Bool(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

var pkgLogger = New("")

// Debug emits a DEBUG-level entry on the unnamed package logger.
func Debug(msg string, fields ...interface{}) { pkgLogger.Debug(msg, fields...) }

// Info emits an INFO-level entry on the unnamed package logger.
func Info(msg string, fields ...interface{}) { pkgLogger.Info(msg, fields...) }

// Warn emits a WARN-level entry on the unnamed package logger.
func Warn(msg string, fields ...interface{}) { pkgLogger.Warn(msg, fields...) }

// Error emits an ERROR-level entry on the unnamed package logger.
func Error(msg string, fields ...interface{}) { pkgLogger.Error(msg, fields...) }
