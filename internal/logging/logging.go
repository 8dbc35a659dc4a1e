// Package logging defines the minimal structured logging contract shared by
// the broker components. It maps directly onto log/slog so applications can
// plug in their own handlers without the components depending on slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Fields represents structured logging key/value pairs.
type Fields map[string]any

// Logger is the logging contract required by the broker, dispatcher, and
// AMQP layers. Implementations must be safe for concurrent use.
type Logger interface {
	With(fields Fields) Logger
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, err error, fields Fields)
}

// Options configures the slog-backed logger built by New.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "text" or "json". Defaults to "text".
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds a Logger backed by a slog handler.
func New(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return FromSlog(slog.New(handler))
}

// FromSlog wraps an existing slog.Logger so it satisfies the Logger interface.
func FromSlog(log *slog.Logger) Logger {
	if log == nil {
		panic("logging: slog logger cannot be nil")
	}
	return &slogLogger{inner: log}
}

// ParseLevel converts a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type slogLogger struct {
	inner *slog.Logger
}

func (l *slogLogger) With(fields Fields) Logger {
	if len(fields) == 0 {
		return l
	}
	return &slogLogger{inner: l.inner.With(toAttrs(fields)...)}
}

func (l *slogLogger) Debug(msg string, fields Fields) {
	l.inner.Debug(msg, toAttrs(fields)...)
}

func (l *slogLogger) Info(msg string, fields Fields) {
	l.inner.Info(msg, toAttrs(fields)...)
}

func (l *slogLogger) Warn(msg string, fields Fields) {
	l.inner.Warn(msg, toAttrs(fields)...)
}

func (l *slogLogger) Error(msg string, err error, fields Fields) {
	attrs := toAttrs(fields)
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	l.inner.Error(msg, attrs...)
}

func toAttrs(fields Fields) []any {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]any, 0, len(fields))
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	return attrs
}

// Nop returns a logger that discards everything. Intended for tests.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) With(Fields) Logger          { return nopLogger{} }
func (nopLogger) Debug(string, Fields)        {}
func (nopLogger) Info(string, Fields)         {}
func (nopLogger) Warn(string, Fields)         {}
func (nopLogger) Error(string, error, Fields) {}
