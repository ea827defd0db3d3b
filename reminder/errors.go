package reminder

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidNow is returned when the reconciliation clock is the zero
	// instant. This is a programming error, not a data problem.
	ErrInvalidNow = errors.New("invalid reconciliation time")

	// ErrInvalidConfig is returned when a grace or tolerance window is negative.
	ErrInvalidConfig = errors.New("invalid reminder config")
)

// ConfigError names the offending config field.
type ConfigError struct {
	Field string
	Value time.Duration
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid reminder config: %s must not be negative (got %s)", e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
