package logger

import (
	"context"
	"log/slog"
)

// Outcome is the result label attached to every stage event.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// StageLogger emits events keyed by a processing stage such as precheck,
// execute or commit. The underlying logger is resolved on every call so a
// later Init or Replace takes effect for long lived stage loggers.
type StageLogger struct {
	stage string
	attrs []slog.Attr
}

// Stage returns the event emitter for the named stage.
func Stage(name string) StageLogger {
	return StageLogger{stage: name}
}

// With returns a copy that adds attrs to every event.
func (s StageLogger) With(attrs ...slog.Attr) StageLogger {
	merged := make([]slog.Attr, 0, len(s.attrs)+len(attrs))
	merged = append(merged, s.attrs...)
	merged = append(merged, attrs...)
	return StageLogger{stage: s.stage, attrs: merged}
}

// Name returns the stage label.
func (s StageLogger) Name() string { return s.stage }

// Started records the beginning of the stage at debug level.
func (s StageLogger) Started(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.emit(ctx, slog.LevelDebug, OutcomeStarted, msg, attrs)
}

// Succeeded records a successful stage.
func (s StageLogger) Succeeded(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.emit(ctx, slog.LevelInfo, OutcomeSucceeded, msg, attrs)
}

// Skipped records a stage that had nothing to do.
func (s StageLogger) Skipped(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.emit(ctx, slog.LevelInfo, OutcomeSkipped, msg, attrs)
}

// Failed records a failed stage at error level.
func (s StageLogger) Failed(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	s.emit(ctx, slog.LevelError, OutcomeFailed, msg, append(attrs, slog.Any("error", err)))
}

// Degraded records a failure that the caller tolerates, at warn level.
func (s StageLogger) Degraded(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	s.emit(ctx, slog.LevelWarn, OutcomeFailed, msg, append(attrs, slog.Any("error", err)))
}

func (s StageLogger) emit(ctx context.Context, level slog.Level, outcome Outcome, msg string, attrs []slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	all := make([]slog.Attr, 0, len(s.attrs)+len(attrs)+2)
	all = append(all, slog.String("stage", s.stage), slog.String("outcome", string(outcome)))
	all = append(all, s.attrs...)
	all = append(all, attrs...)
	L().LogAttrs(ctx, level, msg, all...)
}
