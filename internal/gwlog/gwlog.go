// Package gwlog constructs the gateway's structured logger.
//
// One zerolog.Logger is built at startup and threaded into every
// subsystem constructor by value; nothing here is a package-level
// global, so tests can build an isolated logger per case.
package gwlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options controls how the root logger is built.
type Options struct {
	// Level is the minimum level that will be emitted ("debug", "info",
	// "warn", "error"). Empty defaults to "info".
	Level string
	// Pretty enables zerolog's human-readable console writer; production
	// deployments should leave this false and ship structured JSON.
	Pretty bool
	// Writer overrides the output sink (tests use this to capture output).
	Writer io.Writer
}

// New builds the root logger for the gateway process.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the owning subsystem, the
// convention every constructor in this module follows instead of reaching
// for a package-global logger.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
