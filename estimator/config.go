// Package estimator infers the state of an unmonitored battery bank from the DC
// telemetry of the chargers and loads attached to it.
package estimator

import (
	"errors"
	"fmt"
)

// Default voltage thresholds for a 12 V lead-acid bank
const (
	DefaultEmptyVoltage = 11.8
	DefaultMinVoltage   = 12.2
	DefaultFullVoltage  = 12.8
	DefaultMaxVoltage   = 14.8

	// DefaultHistorySize is the number of samples kept by the median filter
	DefaultHistorySize = 19
)

// ErrInvalidConfig is returned when a Config cannot be used to build an Estimator
var ErrInvalidConfig = errors.New("invalid battery config")

// Config is read once at startup. Zero current limits mean "not configured".
type Config struct {
	CapacityAh          float64 `json:"capacity"`
	EmptyVoltage        float64 `json:"emptyVoltage"`
	MinVoltage          float64 `json:"minVoltage"`
	FullVoltage         float64 `json:"fullVoltage"`
	MaxVoltage          float64 `json:"maxVoltage"`
	MaxChargeCurrent    float64 `json:"maxChargeCurrent,omitempty"`
	MaxDischargeCurrent float64 `json:"maxDischargeCurrent,omitempty"`
	HistorySize         int     `json:"historySize"`
}

// DefaultConfig returns a Config with default thresholds and no capacity set
func DefaultConfig() Config {
	return Config{
		EmptyVoltage: DefaultEmptyVoltage,
		MinVoltage:   DefaultMinVoltage,
		FullVoltage:  DefaultFullVoltage,
		MaxVoltage:   DefaultMaxVoltage,
		HistorySize:  DefaultHistorySize,
	}
}

// Validate checks the capacity and the empty < min < full < max ordering
func (c Config) Validate() error {
	if c.CapacityAh <= 0 {
		return fmt.Errorf("%w: capacity is required and must be positive (got %v)", ErrInvalidConfig, c.CapacityAh)
	}
	if c.EmptyVoltage >= c.MinVoltage {
		return fmt.Errorf("%w: minVoltage (%v) must be greater than emptyVoltage (%v)",
			ErrInvalidConfig, c.MinVoltage, c.EmptyVoltage)
	}
	if c.MinVoltage >= c.FullVoltage {
		return fmt.Errorf("%w: fullVoltage (%v) must be greater than minVoltage (%v)",
			ErrInvalidConfig, c.FullVoltage, c.MinVoltage)
	}
	if c.FullVoltage >= c.MaxVoltage {
		return fmt.Errorf("%w: maxVoltage (%v) must be greater than fullVoltage (%v)",
			ErrInvalidConfig, c.MaxVoltage, c.FullVoltage)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("%w: historySize must be at least 1 (got %d)", ErrInvalidConfig, c.HistorySize)
	}
	if c.MaxChargeCurrent < 0 || c.MaxDischargeCurrent < 0 {
		return fmt.Errorf("%w: current limits must not be negative", ErrInvalidConfig)
	}
	return nil
}
