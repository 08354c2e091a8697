// Package retry holds the exponential backoff policy shared by the outbound HTTP clients.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
)

// Strategy handles exponential backoff retry logic
type Strategy struct {
	config model.RetryConfig
}

// NewStrategy creates a new retry strategy
func NewStrategy(config model.RetryConfig) *Strategy {
	config.SetDefaults()
	return &Strategy{
		config: config,
	}
}

// CalculateDelay calculates the delay for a given attempt using exponential backoff
// Formula: delay = min(initial_delay * (multiplier ^ (attempt-1)), max_delay)
func (s *Strategy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delayMs := float64(s.config.InitialDelayMs) * math.Pow(s.config.Multiplier, float64(attempt-1))
	if delayMs > float64(s.config.MaxDelayMs) {
		delayMs = float64(s.config.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// ShouldRetry determines if a retry should be attempted based on the outcome
func (s *Strategy) ShouldRetry(attempt int, statusCode int, err error) bool {
	if attempt >= s.config.MaxAttempts {
		return false
	}

	// Network error
	if err != nil && statusCode == 0 {
		return true
	}

	switch {
	case statusCode >= 500 && statusCode < 600:
		return true
	case statusCode == 429:
		return true
	case statusCode >= 400 && statusCode < 500:
		return false
	case statusCode >= 300:
		return true
	}

	return false
}

// MaxAttempts returns the maximum number of attempts
func (s *Strategy) MaxAttempts() int {
	return s.config.MaxAttempts
}

// Wait sleeps for the backoff of attempt or until ctx is done
func (s *Strategy) Wait(ctx context.Context, attempt int) error {
	select {
	case <-time.After(s.CalculateDelay(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
