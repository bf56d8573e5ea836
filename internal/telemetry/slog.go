package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" (any case) to a
// slog level. Unknown values fall back to info.
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

// NewLogger builds a logger writing to w.
//
// format: "json"  → JSONHandler (machine readable; recommended for production)
//
//	anything else → TextHandler (human readable; suitable for local development)
//
// Every record carries service=<service> and, when non-empty, role=<role> so the
// API and worker processes can be told apart in a shared log sink.
func NewLogger(w io.Writer, format, level, role string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler).With("service", "uilm")
	if role != "" {
		logger = logger.With("role", role)
	}
	return logger
}

// SetupLogger installs a stdout logger as the slog default so plain slog.Info /
// slog.Error calls across the module pick it up.
func SetupLogger(format, level, role string) {
	slog.SetDefault(NewLogger(os.Stdout, format, level, role))
	slog.Info("logger initialised", "format", format, "level", ParseLevel(level).String())
}
