package utils

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with the field names used across FlowKernel.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler writing to stderr at Info level is used.
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

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// DefaultLogger is used by constructors whose configuration carries no Logger.
func DefaultLogger() *Logger {
	return NewTextLogger(slog.LevelWarn)
}

// WithComponent tags records with the emitting component, e.g. "metric" or "occa".
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// WithShape tags records with a grid shape.
func (l *Logger) WithShape(shape []int) *Logger {
	return &Logger{
		Logger: l.Logger.With("shape", shape),
	}
}

// Enabled reports whether records at level would be emitted.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.Logger.Enabled(context.Background(), level)
}
