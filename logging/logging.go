// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a logger configured for the named process. In development
// (ENV unset or "development") it writes human-readable console output;
// otherwise it writes structured JSON suitable for log aggregation.
func New(component string) zerolog.Logger {
	env := os.Getenv("ENV")

	var out zerolog.Logger
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		out = zerolog.New(os.Stdout)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return out.With().Timestamp().Str("component", component).Logger()
}
