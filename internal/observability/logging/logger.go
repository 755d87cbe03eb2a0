// Package logging builds the structured JSON loggers shared by the api and
// worker processes.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger logs to stdout. Every record carries the process role and
// deployment environment so api and worker output can be told apart.
func NewJSONLogger(service, level, environment string) *slog.Logger {
	return New(os.Stdout, service, level, environment)
}

func New(w io.Writer, service, level, environment string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	logger := slog.New(handler).With("service", service)
	if environment = strings.TrimSpace(environment); environment != "" {
		logger = logger.With("environment", environment)
	}
	return logger
}

// ParseLevel maps LOG_LEVEL values onto slog levels. Unknown values log at info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
