package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Components never log through
// it directly; they derive child loggers with WithComponent or
// ForContainer so every line carries its origin.
var Logger zerolog.Logger

// Level names a log severity. The values match zerolog's own level
// strings, so config files use them verbatim.
type Level string

// Levels accepted by Init, from chattiest to quietest.
const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // defaults to os.Stdout
}

// Init builds the global logger. Services log JSON; console output is
// for a human watching the terminal.
func Init(cfg Config) {
	lvl, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent creates a child logger tagged with the component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// ForContainer creates a child logger carrying both the component and
// container_id fields. Long-lived per-container loops hold one instead
// of re-tagging every line.
func ForContainer(component, containerID string) zerolog.Logger {
	return Logger.With().
		Str("component", component).
		Str("container_id", containerID).
		Logger()
}
