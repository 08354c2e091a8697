package model

import "fmt"

// RetryConfig is an exponential backoff schedule. Delays are in milliseconds.
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts" bson:"max_attempts"`
	InitialDelayMs int     `json:"initial_delay_ms" bson:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms" bson:"max_delay_ms"`
	Multiplier     float64 `json:"multiplier" bson:"multiplier"`
}

// SetDefaults fills zero fields: 3 attempts, 1s doubling up to 30s
func (rc *RetryConfig) SetDefaults() {
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialDelayMs == 0 {
		rc.InitialDelayMs = 1000
	}
	if rc.MaxDelayMs == 0 {
		rc.MaxDelayMs = 30000
	}
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}
}

// Validate rejects schedules a user could use to hammer an endpoint or stall a worker
func (rc RetryConfig) Validate() error {
	switch {
	case rc.MaxAttempts < 1 || rc.MaxAttempts > 10:
		return fmt.Errorf("%w: max_attempts must be between 1 and 10", ErrValidation)
	case rc.InitialDelayMs < 0 || rc.MaxDelayMs < rc.InitialDelayMs:
		return fmt.Errorf("%w: max_delay_ms must be >= initial_delay_ms >= 0", ErrValidation)
	case rc.MaxDelayMs > 300000:
		return fmt.Errorf("%w: max_delay_ms must be at most 300000", ErrValidation)
	case rc.Multiplier < 1:
		return fmt.Errorf("%w: multiplier must be at least 1", ErrValidation)
	}
	return nil
}
