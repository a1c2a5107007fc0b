package config

import (
	"fmt"
	"strings"

	"github.com/coral-mesh/remoteprof/internal/constants"
)

// Validator is the interface for validating configuration.
type Validator interface {
	Validate() error
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errors []ValidationError
	add := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !logLevels[c.Log.Level] {
		add("log.level", "unknown level %q (want trace, debug, info, warn or error)", c.Log.Level)
	}

	switch c.Store.Driver {
	case constants.StoreDuckDB, constants.StoreMemory:
	default:
		add("store.driver", "unknown driver %q (want duckdb or memory)", c.Store.Driver)
	}
	if c.Store.Threads < 0 {
		add("store.threads", "must not be negative")
	}

	if c.Decode.Workers <= 0 {
		add("decode.workers", "must be positive, got %d", c.Decode.Workers)
	}

	if c.Transport.MaxFrameSize < constants.MinMaxFrameSize || c.Transport.MaxFrameSize > constants.MaxMaxFrameSize {
		add("transport.max_frame_size", "must be between %d and %d bytes, got %d",
			constants.MinMaxFrameSize, constants.MaxMaxFrameSize, c.Transport.MaxFrameSize)
	}
	if c.Transport.DialTimeout <= 0 {
		add("transport.dial_timeout", "must be positive")
	}
	if c.Transport.DialRetries < 1 {
		add("transport.dial_retries", "must be at least 1")
	}

	if c.Heartbeat.Interval < 0 {
		add("heartbeat.interval", "must not be negative")
	}
	if c.Heartbeat.Interval > 0 {
		if c.Heartbeat.Timeout <= 0 {
			add("heartbeat.timeout", "must be positive when heartbeats are enabled")
		}
		if c.Heartbeat.MaxFailures < 1 {
			add("heartbeat.max_failures", "must be at least 1 when heartbeats are enabled")
		}
	}

	if len(errors) > 0 {
		return &MultiValidationError{Errors: errors}
	}
	return nil
}
