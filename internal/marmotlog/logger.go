// Package marmotlog builds the structured zerolog.Logger every marmot
// component shares, configured from internal/config.Env's LogLevel/LogFormat
// strings the same way the teacher's monitoring.NewLogger takes a
// LoggerConfig struct.
package marmotlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing JSON to stdout, or a human-readable
// console writer when format is "pretty". level must be one of
// debug/info/warn/error (internal/config.Env.Validate already enforces
// this before New is ever called).
func New(level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout
	if format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(parseLevel(level))

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "marmotd").
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
