// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string
	Output     io.Writer
}

// DefaultConfig returns the logging configuration used by the services.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.Kitchen,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithClient returns a logger scoped to one relay client.
func WithClient(clientID string) zerolog.Logger {
	return log.With().
		Str("component", "relay").
		Str("clientId", clientID).
		Logger()
}

// WithUpstream returns a logger scoped to a client's upstream provider session.
func WithUpstream(clientID, provider string) zerolog.Logger {
	return log.With().
		Str("component", "upstream").
		Str("clientId", clientID).
		Str("sttProvider", provider).
		Logger()
}

// WithSession returns a logger for the recorder-side session machine.
func WithSession(sessionID string) zerolog.Logger {
	return log.With().
		Str("component", "session").
		Str("sessionId", sessionID).
		Logger()
}
