package tierstore

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with tierstore-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithFile adds a file field to the logger.
func (l *Logger) WithFile(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("file", name),
	}
}

// LogOpen logs an openInput call.
func (l *Logger) LogOpen(ctx context.Context, name string, kind OpenKind, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"file", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "open completed",
			"file", name,
			"kind", string(kind),
		)
	}
}

// LogAfterUpload logs a post-upload registration batch.
func (l *Logger) LogAfterUpload(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "after upload failed",
			"files", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "after upload completed",
			"files", count,
		)
	}
}

// LogEviction logs a cache eviction and the resulting state change.
func (l *Logger) LogEviction(ctx context.Context, name string, bytes int64, err error) {
	if err != nil {
		l.WarnContext(ctx, "eviction state update failed",
			"file", name,
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "file evicted",
			"file", name,
			"bytes", bytes,
		)
	}
}

// LogRecovery logs the state rebuilt on open.
func (l *Logger) LogRecovery(ctx context.Context, stats RecoveryStats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recovery completed",
			"cached", stats.Cached,
			"remote_only", stats.RemoteOnly,
			"local_only", stats.LocalOnly,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"file", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"file", name,
		)
	}
}
