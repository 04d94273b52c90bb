package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the global logger
func InitLogger(level, format string) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// Set time format
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Configure output format
	var output = zerolog.New(os.Stdout)
	if format == "console" {
		output = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		})
	}

	// Set global logger
	log.Logger = output.
		With().
		Timestamp().
		Caller().
		Logger()

	log.Info().
		Str("level", logLevel.String()).
		Str("format", format).
		Msg("Logger initialized")
}

// NewLogger creates a new logger with a component name
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewAgentLogger creates a logger for an agent runtime
func NewAgentLogger(agentID, layer string) zerolog.Logger {
	return log.With().
		Str("component", "agent").
		Str("agent_id", agentID).
		Str("layer", layer).
		Logger()
}

// NewTaskLogger creates a logger scoped to one task run
func NewTaskLogger(taskID string) zerolog.Logger {
	return log.With().
		Str("component", "team").
		Str("task_id", taskID).
		Logger()
}
