// Package logger builds the slog loggers used across the client and the development backend.
package logger

import (
	"io"
	"log/slog"
	"strings"

	"github.com/go-chi/httplog/v2"
)

// New returns an httplog logger for the named service. JSON output is used in prod,
// concise text output otherwise.
func New(service, env, level string, w io.Writer) *httplog.Logger {
	return httplog.NewLogger(service, httplog.Options{
		JSON:     env == "prod",
		Concise:  env != "prod",
		LogLevel: ParseLevel(level),
		Writer:   w,
	})
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a config level name onto slog levels, defaulting to info.
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
