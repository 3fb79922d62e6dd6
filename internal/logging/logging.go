// Package logging builds the structured logger shared by the server, services and middleware.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// New returns a logger writing at the given level ("debug", "info", "warn", "error").
// Format "json" writes one JSON object per line; anything else writes human readable console output.
func New(level, format string) *log.Logger {
	logger := &log.Logger{
		Level:      log.ParseLevel(strings.ToLower(level)),
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}

	if format == "json" {
		logger.Writer = &log.IOWriter{Writer: os.Stdout}
	} else {
		logger.Writer = &log.ConsoleWriter{
			ColorOutput:    true,
			QuoteString:    true,
			EndWithMessage: true,
		}
	}

	return logger
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *log.Logger {
	return &log.Logger{
		Level:  log.PanicLevel,
		Writer: &log.IOWriter{Writer: io.Discard},
	}
}
