// Package logging builds the process-wide zerolog logger. Called once at
// bootstrap; components take child loggers via With().
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates the root structured logger for a service binary.
//
//	logger := logging.New("stream-proxy", "info", "json")
//	sessionLog := logger.With().Str("component", "session").Logger()
func New(service, level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	if format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
