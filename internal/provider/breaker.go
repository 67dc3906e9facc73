package provider

import (
	"errors"
	"log"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state for one provider.
type BreakerState int

const (
	// BreakerClosed allows calls.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen allows exactly one trial call.
	BreakerHalfOpen
)

// String returns a human-readable representation of the breaker state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen indicates the provider's circuit is open and the call was
// rejected without being attempted.
var ErrBreakerOpen = errors.New("circuit breaker is open")

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens
	// the breaker.
	DefaultFailureThreshold = 3
	// DefaultCooldown is the initial open period.
	DefaultCooldown = 30 * time.Second
	// DefaultMaxCooldown caps the doubling applied after failed trials.
	DefaultMaxCooldown = 5 * time.Minute
)

// BreakerConfig holds the tunable parameters of a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int
	// Cooldown is the initial open period.
	Cooldown time.Duration
	// MaxCooldown caps the cooldown after repeated failed trials.
	MaxCooldown time.Duration
}

// Breaker is a per-provider failure-isolation state machine. Closed allows
// calls; FailureThreshold consecutive failures open it for the cooldown;
// after the cooldown exactly one half-open trial runs. A successful trial
// closes the breaker and resets the cooldown; a failed trial reopens it
// with the cooldown doubled, capped at MaxCooldown.
type Breaker struct {
	// name identifies the guarded provider in logs.
	name string
	// cfg holds the thresholds.
	cfg BreakerConfig
	// state is the current breaker state.
	state BreakerState
	// consecutiveFailures counts failures since the last success.
	consecutiveFailures int
	// cooldown is the current open period, doubled per failed trial.
	cooldown time.Duration
	// openedAt is when the breaker last opened.
	openedAt time.Time
	// trialInFlight is set while the single half-open trial runs.
	trialInFlight bool
	// now is the clock, replaceable in tests.
	now func() time.Time
	// mu protects all mutable fields.
	mu sync.Mutex
}

// NewBreaker creates a closed Breaker for the named provider. Zero-valued
// config fields select defaults.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = DefaultMaxCooldown
	}
	return &Breaker{
		name:     name,
		cfg:      cfg,
		state:    BreakerClosed,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed transitions to half-open and admits exactly one trial;
// concurrent callers during the trial are rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		log.Printf("[breaker] %s cooldown elapsed, allowing half-open trial", b.name)
		return nil
	case BreakerHalfOpen:
		if b.trialInFlight {
			return ErrBreakerOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return ErrBreakerOpen
	}
}

// RecordSuccess resets failure tracking. A successful half-open trial
// closes the breaker and restores the base cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		log.Printf("[breaker] %s trial succeeded, closing", b.name)
	}
	b.state = BreakerClosed
	b.consecutiveFailures = 0
	b.cooldown = b.cfg.Cooldown
	b.trialInFlight = false
}

// RecordFailure counts a failure. Reaching the threshold opens the breaker;
// a failed half-open trial reopens it with the cooldown doubled, capped.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.trialInFlight = false
		b.cooldown *= 2
		if b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
		log.Printf("[breaker] %s trial failed, reopening for %s", b.name, b.cooldown)
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
			log.Printf("[breaker] %s opened after %d consecutive failures, cooldown %s", b.name, b.consecutiveFailures, b.cooldown)
		}
	case BreakerOpen:
		// Already open; nothing to count.
	}
}

// State returns the current breaker state, applying the open-to-half-open
// transition check without admitting a trial.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// SetClock replaces the breaker's clock. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
