// Package logging hands out per-subsystem slog loggers that share one
// configurable handler.
//
//	var log = logging.Logger("monitor")
//	log.Info("probe applied", "latency_ms", 120)
//
// STOCKPULSE_LOG_LEVEL overrides the configured level (debug, info, warn, error).
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const envLevel = "STOCKPULSE_LOG_LEVEL"

var (
	mu      sync.RWMutex
	level   = new(slog.LevelVar)
	handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
)

// Setup replaces the shared handler. Loggers created earlier keep the old
// handler, so call it before building components.
func Setup(w io.Writer, lvl, format string) error {
	parsed, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	if env := strings.TrimSpace(os.Getenv(envLevel)); env != "" {
		if parsed, err = ParseLevel(env); err != nil {
			return fmt.Errorf("%s: %w", envLevel, err)
		}
	}
	level.Set(parsed)

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	mu.Lock()
	handler = h
	mu.Unlock()
	return nil
}

// Logger returns a logger tagged with the given subsystem.
func Logger(subsystem string) *slog.Logger {
	mu.RLock()
	h := handler
	mu.RUnlock()
	return slog.New(h).With("subsystem", subsystem)
}

// Level reports the active level.
func Level() slog.Level {
	return level.Level()
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
