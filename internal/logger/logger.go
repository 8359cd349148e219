package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"
)

// LevelCritical marks failures that lose data unless an operator intervenes.
const LevelCritical = slog.Level(12)

type Logger struct {
	Service string
	l       *slog.Logger
}

func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

// NewWithWriter emits one JSON object per line to w.
func NewWithWriter(service string, w io.Writer) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	})
	return &Logger{
		Service: service,
		l:       slog.New(h).With("service", service),
	}
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339Nano))
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
			return slog.String(slog.LevelKey, "CRITICAL")
		}
	}
	return a
}

// Slog exposes the underlying logger for libraries that take a *slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.l }

func (l *Logger) Info(msg string, fields map[string]any) {
	l.emit(slog.LevelInfo, msg, fields)
}

func (l *Logger) Warn(msg string, fields map[string]any) {
	l.emit(slog.LevelWarn, msg, fields)
}

func (l *Logger) Error(msg string, fields map[string]any) {
	l.emit(slog.LevelError, msg, fields)
}

func (l *Logger) Critical(msg string, fields map[string]any) {
	l.emit(LevelCritical, msg, fields)
}

func (l *Logger) emit(level slog.Level, msg string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	l.l.LogAttrs(context.Background(), level, msg, attrs...)
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *Logger {
	return NewWithWriter("test", io.Discard)
}
