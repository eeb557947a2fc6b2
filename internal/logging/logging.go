// Package logging builds the process logger. The logger is constructed
// once by the CLI and handed to components by value; nothing in this
// module reads a package-level logger.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a console logger at the given level, writing to stderr so
// command output on stdout stays clean. Unknown levels fall back to info.
func New(level string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		lvl = zerolog.TraceLevel
	case "debug":
		lvl = zerolog.DebugLevel
	case "info":
		lvl = zerolog.InfoLevel
	case "warn", "warning":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
