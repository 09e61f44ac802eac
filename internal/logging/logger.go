package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a JSON slog logger for production use. Structured output
// keeps booking/payment ids greppable across the request path and the
// background sweeps without a heavier logging dependency.
func NewLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// Component tags a child logger so engine, scheduler and HTTP lines can be
// told apart in aggregated output.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
