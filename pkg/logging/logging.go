package logging

import (
	"context"
	"log/slog"
)

// Attribute keys shared by the records of a run.
const (
	RunIDKey     = "run_id"
	PartyKey     = "party"
	ComponentKey = "component"
)

const redactedPlaceholder = "[redacted]"

// Logger is the logging surface the client packages depend on.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}

// New wraps logger. Nil binds to slog.Default().
func New(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return slogLogger{logger}
}

// Discard returns a Logger that drops every record.
func Discard() Logger {
	return slogLogger{slog.New(slog.DiscardHandler)}
}

// ForRun tags every record with the run identifier and the client id.
func ForRun(l Logger, runID string, party int) Logger {
	return orDiscard(l).With(RunIDKey, runID, PartyKey, party)
}

// Component names the subsystem emitting the records, e.g. "input".
func Component(l Logger, name string) Logger {
	return orDiscard(l).With(ComponentKey, name)
}

// Redacted stands in for an attribute that would carry a private input, a
// triple share or a masked value.
func Redacted(key string) slog.Attr {
	return slog.String(key, redactedPlaceholder)
}

// Placeholder returns the string Redacted logs in place of a value.
func Placeholder() string {
	return redactedPlaceholder
}

func orDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}

type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.Log(ctx, slog.LevelDebug, msg, args...)
}

func (s slogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.Log(ctx, slog.LevelInfo, msg, args...)
}

func (s slogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.Log(ctx, slog.LevelWarn, msg, args...)
}

func (s slogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.Log(ctx, slog.LevelError, msg, args...)
}

func (s slogLogger) With(args ...any) Logger {
	return slogLogger{s.l.With(args...)}
}
