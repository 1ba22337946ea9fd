// Package logging builds the slog.Logger used across the CLI and the
// engines it drives (C11): slog.Default() for interactive commands, a
// configurable handler for daemon/long-running modes, with a level resolved
// from configuration (SPEC_FULL.md §4.9).
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a config/env log level string to a slog.Level, defaulting
// to Info on an empty or unrecognized value.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds a text-handler logger writing to w at the given level. CLI
// commands use this over stderr; daemon/long-running modes point w at a log
// file instead.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}
