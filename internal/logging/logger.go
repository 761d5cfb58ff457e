package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a logger on stdout. See NewWithWriter.
func New(env, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, env, level)
}

// NewWithWriter picks format and level from env: prod logs JSON at INFO,
// everything else logs text at DEBUG. A non-empty level overrides the default.
func NewWithWriter(w io.Writer, env, level string) *slog.Logger {
	prod := env == "prod" || env == "production"

	lvl := slog.LevelDebug
	if prod {
		lvl = slog.LevelInfo
	}
	if l, ok := ParseLevel(level); ok {
		lvl = l
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if prod {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
