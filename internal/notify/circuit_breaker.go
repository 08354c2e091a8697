package notify

import (
	"sync"
	"time"
)

// CircuitState represents the state of one endpoint's breaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type circuit struct {
	state        CircuitState
	failures     int
	successes    int
	stateChanged time.Time
}

// Breakers tracks one circuit per sink URL so a dead endpoint does not block the others
type Breakers struct {
	mu       sync.Mutex
	circuits map[string]*circuit

	failureThreshold int           // failures before opening
	successThreshold int           // successes to close from half-open
	cooldown         time.Duration // time before trying half-open
}

// NewBreakers creates an empty breaker set
func NewBreakers(failureThreshold, successThreshold int, cooldown time.Duration) *Breakers {
	return &Breakers{
		circuits:         make(map[string]*circuit),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

func (b *Breakers) get(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed, stateChanged: time.Now()}
		b.circuits[key] = c
	}
	return c
}

// CanAttempt reports whether a delivery to key may be tried
func (b *Breakers) CanAttempt(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	switch c.state {
	case StateOpen:
		if time.Since(c.stateChanged) < b.cooldown {
			return false
		}
		c.state = StateHalfOpen
		c.failures = 0
		c.successes = 0
		c.stateChanged = time.Now()
	}
	return true
}

// RecordSuccess records a delivered summary
func (b *Breakers) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	switch c.state {
	case StateClosed:
		c.failures = 0
	case StateHalfOpen:
		c.successes++
		if c.successes >= b.successThreshold {
			c.state = StateClosed
			c.failures = 0
			c.successes = 0
			c.stateChanged = time.Now()
		}
	}
}

// RecordFailure records a delivery that exhausted its retries
func (b *Breakers) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	c.failures++

	switch c.state {
	case StateClosed:
		if c.failures >= b.failureThreshold {
			c.state = StateOpen
			c.stateChanged = time.Now()
		}
	case StateHalfOpen:
		c.state = StateOpen
		c.successes = 0
		c.stateChanged = time.Now()
	}
}

// State returns the breaker state for key
func (b *Breakers) State(key string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(key).state
}
