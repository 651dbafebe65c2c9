// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// DefaultService is the service name attached to every log line.
const DefaultService = "serenissima-proxy"

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added as the "service" field (default: DefaultService).
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Output:  os.Stderr,
		Service: DefaultService,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	service := cfg.Service
	if service == "" {
		service = DefaultService
	}

	logger := zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Logger()

	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to a zerolog.Level. Unknown levels map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug:
//   - Cache hit/miss with key, etag and age
//   - Conditional request matches
//   - Outbound request details
//
// Info:
//   - Upstream refreshes
//   - Cache invalidations
//   - Server startup/shutdown
//
// Warn:
//   - Stale entries served after an upstream failure
//   - Retry attempts and Retry-After blocks
//   - Store tier read/write failures
//
// Error:
//   - Upstream failures with no fallback entry
//   - Startup and configuration errors
//
// Context Fields:
//   - resource: cache resource name (marketplace, history)
//   - key: cache key
//   - etag: entry ETag
//   - age: entry age
//   - path: backend path
//   - error_class: client, server, rate_limit, network, malformed
//   - request_id: X-Request-ID of the inbound request
