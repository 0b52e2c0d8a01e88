// Package logging provides a structured logger built on [log/slog].
// It is configured once at startup via [New] and distributed through
// context values using [WithLogger] / [FromContext].
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
//	LOG_FILE   = path to an additional, size-rotated log file (default: none)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// New constructs a [*slog.Logger] from environment variables.
// LOG_FORMAT selects the handler (json for production, text for local dev).
// LOG_LEVEL sets the minimum severity level. When LOG_FILE is set, records
// are written to stderr and to the rotated file.
func New() *slog.Logger {
	return NewWithWriter(output(os.Getenv("LOG_FILE")))
}

// NewWithWriter constructs a logger that writes to w, honouring LOG_LEVEL
// and LOG_FORMAT.
func NewWithWriter(w io.Writer) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// output returns stderr, or stderr tee'd with a lumberjack rotator when
// path is non-empty.
func output(path string) io.Writer {
	if path == "" {
		return os.Stderr
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return io.MultiWriter(os.Stderr, rotator)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx.
// If no logger is present it returns [slog.Default] so callers never
// need to nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// parseLevel converts a string to a [slog.Level], defaulting to Info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
