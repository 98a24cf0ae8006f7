// Package log wires the zerolog logger this controller runs with: a single
// global instance for the process's top-level output, plus small helpers
// that attach the fields each component needs to correlate lines across a
// cycle (which machine, which cycle run, which subsystem).
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init must be called before anything
// logs through it; the zero value is silently discarded output.
var Logger zerolog.Logger

// Level names a configurable log verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config selects the global logger's verbosity and encoding.
type Config struct {
	// Level is looked up against the known levels; an unrecognised value
	// falls back to InfoLevel rather than erroring, since this is usually
	// fed straight from a CLI flag.
	Level Level

	// JSONOutput switches from the human-readable console writer to
	// newline-delimited JSON, for when output is shipped to a log
	// aggregator instead of a terminal.
	JSONOutput bool

	// Output defaults to stderr, since this binary is normally invoked
	// from cron/systemd with stdout reserved for nothing in particular.
	Output io.Writer
}

// Init builds Logger from cfg and sets it as the global logger.
func Init(cfg Config) {
	level, ok := levels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
		NoColor:    true,
		FormatLevel: func(i interface{}) string {
			if l, ok := i.(string); ok {
				return strings.ToUpper(l) + ":"
			}
			return ""
		},
	}).With().Timestamp().Logger()
}

// WithComponent derives a child of the global Logger tagged with the
// subsystem name, for components that log before a cycle (and so a cycle
// ID) exists.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithMachine derives a child logger tagged with the machine a log line is
// about.
func WithMachine(logger zerolog.Logger, machine string) zerolog.Logger {
	return logger.With().Str("machine", machine).Logger()
}

// WithCycle derives a child logger tagged with the cycle's correlation ID,
// so every line a single invocation of the controller emits can be
// grepped out of a shared log stream together.
func WithCycle(logger zerolog.Logger, cycleID string) zerolog.Logger {
	return logger.With().Str("cycle_id", cycleID).Logger()
}
