// Package logging provides structured logging for dupewatch using zerolog.
// Terminals get human-readable console output; everything else gets JSON,
// which is what log shippers expect from a long-running webhook service.
//
// A reconciliation carries its logger in the context:
//
//	ctx = logging.WithAsset(logging.WithLogger(ctx, logger), "A1")
//	logging.FromContext(ctx).Debug().Msg("Searching catalog")
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// defaultLogger is used when no logger travels in the context.
var defaultLogger = newDefaultLogger()

// newDefaultLogger honors LOG_LEVEL, LOG_FORMAT and NO_COLOR before any
// configuration has been loaded.
func newDefaultLogger() zerolog.Logger {
	var w io.Writer = os.Stderr
	if isTerminal(os.Stderr) && os.Getenv("LOG_FORMAT") != "json" {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}

	level := parseLevel(os.Getenv("LOG_LEVEL"))
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// Default returns the process-wide fallback logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// Warn starts a warning on the default logger.
func Warn() *zerolog.Event {
	return defaultLogger.Warn()
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
