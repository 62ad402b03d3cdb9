// Package logger builds the application's structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
}

// NewLogger initializes a new slog logger based on the provided configuration.
// If output is nil, logs go to stdout. Unrecognized levels fall back to info.
func NewLogger(cfg Config, output io.Writer) *slog.Logger {
	if output == nil {
		output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
