// Package logging builds the zerolog.Logger used across the proxy.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-formatted zerolog.Logger at the given level. An
// unrecognized level falls back to info, matching the teacher's tolerant
// flag parsing.
func New(levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(level)
}
