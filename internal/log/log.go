// Package log configures the process-wide zerolog logger from the
// features.yaml `logging` block: console writer for local/TTY use, a
// structured JSON writer for production, honoring LOG_LEVEL.
package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the log sink rendering.
type Format string

const (
	FormatConsole Format = "text"
	FormatJSON    Format = "json"
)

// Options controls logger construction.
type Options struct {
	Format Format
	Level  string
	Output *os.File
}

// New builds a zerolog.Logger per opts, defaulting to console output at
// info level when fields are left zero. format="json" switches to a plain
// JSON writer (no console formatting) for container/log-aggregator use.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(level)

	if opts.Format == FormatJSON {
		return zerolog.New(out).With().Timestamp().Logger()
	}

	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	return zerolog.New(writer).With().Timestamp().Logger()
}

// FromEnv builds a logger using LOG_LEVEL and the format from features.yaml,
// the way cmd/*-service main.go wires their root loggers.
func FromEnv(format Format) zerolog.Logger {
	return New(Options{Format: format, Level: os.Getenv("LOG_LEVEL")})
}

func parseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}
