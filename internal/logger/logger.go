// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and optional
// file rotation.
package logger

import (
	"io"
	"log"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger.
type Options struct {
	Service string
	Level   slog.Level
	File    string // when set, logs also rotate into this file
}

// Init creates a structured logger for the given service and sets it as
// the default. Output is JSON on stdout; when Options.File is set, logs
// are additionally written to a size-rotated file. The stdlib log
// package is redirected into the same sink so component-prefixed
// log.Printf lines land in one place.
func Init(opts Options) *slog.Logger {
	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: opts.Level,
	})
	logger := slog.New(handler).With(
		slog.String("service", opts.Service),
	)
	slog.SetDefault(logger)
	log.SetOutput(out)

	return logger
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
