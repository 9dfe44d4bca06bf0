// Package logger builds the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON logger on stdout. DEBUG=true or LOG_LEVEL=debug enables
// debug level and source locations.
func New() *slog.Logger {
	return NewWithWriter(os.Stdout, isDebug())
}

// NewWithWriter creates a JSON logger writing to w.
func NewWithWriter(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func isDebug() bool {
	return os.Getenv("DEBUG") == "true" || os.Getenv("LOG_LEVEL") == "debug"
}
