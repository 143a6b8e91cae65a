package logging

import (
	"log/slog"
	"os"
	"strings"
)

// SetupJSON sets slog's default logger to JSON output at the named level.
func SetupJSON(level string) {
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)}),
	)
	slog.SetDefault(logger)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
