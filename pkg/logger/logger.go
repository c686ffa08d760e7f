// Package logger configures the process-wide slog logger.
//
// All packages log through slog; this package owns handler construction
// (level, destination, format) so the CLI and tests configure logging in
// one place.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn/warning, error. CRITICAL maps to error.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// Options configures logger initialization.
type Options struct {
	Level  slog.Level
	Output io.Writer // defaults to os.Stderr
	JSON   bool      // JSON handler instead of text
}

// Init installs the default slog logger and returns it.
func Init(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

// InitFile initializes logging to a file path, falling back to stderr on error.
func InitFile(path string, level slog.Level, jsonFormat bool) (*slog.Logger, error) {
	if path == "" {
		return Init(Options{Level: level, JSON: jsonFormat}), nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Init(Options{Level: level, JSON: jsonFormat}), fmt.Errorf("failed to open log file: %w", err)
	}

	return Init(Options{Level: level, Output: f, JSON: jsonFormat}), nil
}

// ForComponent returns a logger scoped to a named component.
func ForComponent(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
