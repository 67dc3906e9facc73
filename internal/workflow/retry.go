package workflow

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry timing defaults: exponential backoff starting at 5s, doubling per
// attempt, capped at 60s.
const (
	DefaultRetryBase = 5 * time.Second
	DefaultRetryCap  = 60 * time.Second
)

// RetryPolicy computes the delay before a failed attempt re-enters Ready.
type RetryPolicy struct {
	// Base is the delay after the first failure.
	Base time.Duration
	// Cap bounds the exponential growth.
	Cap time.Duration
}

// DefaultRetryPolicy returns the standard backoff parameters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: DefaultRetryBase, Cap: DefaultRetryCap}
}

// Delay returns the backoff before retrying after the given failed attempt
// number (1-based). Attempt 1 waits Base, attempt 2 waits 2*Base, and so on
// up to Cap.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.Base),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(p.Cap),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop || d > p.Cap {
		d = p.Cap
	}
	return d
}
