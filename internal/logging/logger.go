package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service logger. Development gets human-readable console
// output; everything else gets JSON lines on stdout.
func New(appEnv, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, appEnv, level)
}

// NewWithWriter parses level, falling back to info for unknown names. An
// empty level means debug in development and info elsewhere.
func NewWithWriter(w io.Writer, appEnv, level string) zerolog.Logger {
	level = strings.ToLower(strings.TrimSpace(level))
	lvl := zerolog.InfoLevel
	switch {
	case level == "" && appEnv == "development":
		lvl = zerolog.DebugLevel
	case level != "":
		if parsed, err := zerolog.ParseLevel(level); err == nil && parsed != zerolog.NoLevel {
			lvl = parsed
		}
	}

	if appEnv == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "editflow").
		Logger()
}
