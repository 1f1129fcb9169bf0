// Package logging wires a single process-wide zerolog.Logger, console-pretty
// in development and JSON in production, matching the emoji-prefixed
// message convention the rest of this codebase already uses for its log
// lines (structured fields replace the teacher's printf interpolation,
// the voice stays the same).
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger from LOG_LEVEL / LOG_FORMAT env vars.
func New(service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(getenv("LOG_LEVEL", "info")))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var w zerolog.ConsoleWriter
	var logger zerolog.Logger
	if strings.ToLower(getenv("LOG_FORMAT", "console")) == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(w)
	}
	return logger.With().Timestamp().Str("service", service).Logger()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
