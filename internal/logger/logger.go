// Package logger builds the slog loggers used across pageheap. Loggers
// discard everything unless explicitly enabled, so library code can log
// freely without cost in the default configuration.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Discard is a logger that drops all output.
var Discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options configures a logger.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Writer  io.Writer  // Destination. Default: os.Stderr
	Level   slog.Level // Minimum log level. Default: LevelInfo
	JSON    bool       // Emit JSON instead of key=value text
}

// New returns a logger for opts.
func New(opts Options) *slog.Logger {
	if !opts.Enabled {
		return Discard
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

// FromEnv returns a debug-level stderr logger when the environment variable
// name is set to anything but "", "0" or "false", and Discard otherwise.
func FromEnv(name string) *slog.Logger {
	v := strings.ToLower(os.Getenv(name))
	if v == "" || v == "0" || v == "false" {
		return Discard
	}
	return New(Options{Enabled: true, Level: slog.LevelDebug})
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
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
