// Package logging builds the slog loggers used by the CLI and the outline
// engine. Logs go to stderr so command output on stdout stays machine-readable.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel parses debug, info, warn or error. Empty means warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", s)
	}
}

// New returns a text logger writing to w at level. A nil writer discards.
func New(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		return Discard()
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }
