package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Handlers and services
// receive it by injection rather than reaching for a package global.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
