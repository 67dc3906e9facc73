package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", cfg)
	b.SetClock(clock.Now)
	return b, clock
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 2, b.ConsecutiveFailures())
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Second})

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	// Concurrent caller during the trial is rejected.
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerStateReportsHalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Second})

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	clock.Advance(30 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())

	// Reporting half-open must not consume the single trial slot.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerTrialSuccessClosesAndResetsCooldown(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Second})

	b.RecordFailure()
	clock.Advance(30 * time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())

	// Reopening uses the base cooldown again.
	b.RecordFailure()
	clock.Advance(30 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreakerTrialFailureDoublesCooldown(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         30 * time.Second,
		MaxCooldown:      100 * time.Second,
	})

	b.RecordFailure()
	clock.Advance(30 * time.Second)
	require.NoError(t, b.Allow())
	b.RecordFailure()

	// Cooldown is now 60s.
	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.RecordFailure()

	// Doubling again would give 120s but the cap holds it at 100s.
	clock.Advance(100 * time.Second)
	assert.NoError(t, b.Allow())
}
