// Package budget tracks spend against a rolling budget window and derives
// the cost tier the router is allowed to use. The controller is the sole
// owner of the spend counter; every other component reads only the derived
// tier.
package budget

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/bus"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

const (
	// DefaultStandardThreshold is the consumed/limit ratio at which
	// premium providers are no longer allowed.
	DefaultStandardThreshold = 0.80
	// DefaultLocalThreshold is the ratio at which only local backends
	// are allowed.
	DefaultLocalThreshold = 0.95
	// DefaultLimit is the default window budget in dollars.
	DefaultLimit = 140.0
	// DefaultPeriod is the default rollover period.
	DefaultPeriod = 30 * 24 * time.Hour
)

// TierChange is the payload of budget tier events published on the bus.
type TierChange struct {
	// OldTier is the tier before the spend that crossed a threshold.
	OldTier models.Tier `json:"old_tier"`
	// NewTier is the tier afterwards.
	NewTier models.Tier `json:"new_tier"`
	// Consumed is the spend recorded in the current window.
	Consumed float64 `json:"consumed"`
	// Limit is the window budget.
	Limit float64 `json:"limit"`
}

// MsgTypeTierChanged is the message type for TierChange payloads.
const MsgTypeTierChanged = "budget_tier_changed"

// Config holds the tunable parameters of a Controller.
type Config struct {
	// Limit is the window budget in dollars. Zero or negative disables
	// budget gating (everything is premium).
	Limit float64
	// Period is the rollover period for the window.
	Period time.Duration
	// StandardThreshold is the ratio above which premium is disallowed.
	StandardThreshold float64
	// LocalThreshold is the ratio above which only local is allowed.
	LocalThreshold float64
}

// Controller tracks consumption within the current window. Consumed is
// monotonically non-decreasing within a window and resets only at rollover.
type Controller struct {
	// limit is the window budget.
	limit float64
	// consumed is the spend recorded in the current window.
	consumed float64
	// windowStart is when the current window began.
	windowStart time.Time
	// period is the window length.
	period time.Duration
	// standardThreshold and localThreshold are the tier boundaries.
	standardThreshold float64
	localThreshold    float64
	// bus carries BudgetTierChanged events; may be nil.
	bus bus.Bus
	// now is the clock, replaceable in tests.
	now func() time.Time
	// mu protects all mutable fields.
	mu sync.Mutex
}

// New creates a Controller. Zero-valued config fields select defaults.
func New(cfg Config, b bus.Bus) *Controller {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.StandardThreshold <= 0 {
		cfg.StandardThreshold = DefaultStandardThreshold
	}
	if cfg.LocalThreshold <= 0 {
		cfg.LocalThreshold = DefaultLocalThreshold
	}
	c := &Controller{
		limit:             cfg.Limit,
		period:            cfg.Period,
		standardThreshold: cfg.StandardThreshold,
		localThreshold:    cfg.LocalThreshold,
		bus:               b,
		now:               time.Now,
	}
	c.windowStart = c.now()
	return c
}

// TierFor returns the most expensive tier the budget currently permits for a
// task with the given estimated cost. The estimate is counted against the
// window so a large task near a boundary is downgraded rather than allowed
// to blow through it.
func (c *Controller) TierFor(estimatedCost float64) models.Tier {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rolloverLocked()
	return c.tierLocked(estimatedCost)
}

// tierLocked derives the tier. Caller holds c.mu.
func (c *Controller) tierLocked(estimatedCost float64) models.Tier {
	if c.limit <= 0 {
		return models.TierPremium // No budget limit set
	}
	ratio := (c.consumed + estimatedCost) / c.limit
	switch {
	case ratio >= c.localThreshold:
		return models.TierLocal
	case ratio >= c.standardThreshold:
		return models.TierStandard
	default:
		return models.TierPremium
	}
}

// RecordSpend adds the actual cost of a completed call to the window.
// Negative amounts are ignored; consumed never decreases within a window.
// A tier boundary crossing publishes a BudgetTierChanged event.
func (c *Controller) RecordSpend(amount float64) {
	if amount <= 0 {
		return
	}

	c.mu.Lock()
	c.rolloverLocked()
	before := c.tierLocked(0)
	c.consumed += amount
	after := c.tierLocked(0)
	consumed, limit := c.consumed, c.limit
	c.mu.Unlock()

	if before != after {
		log.Printf("[budget] tier changed %s -> %s (consumed %.2f of %.2f)", before, after, consumed, limit)
		c.publishTierChange(before, after, consumed, limit)
	}
}

// Usage returns the consumed amount, the limit, and the consumed ratio for
// the current window.
func (c *Controller) Usage() (consumed, limit, ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rolloverLocked()
	if c.limit > 0 {
		ratio = c.consumed / c.limit
	}
	return c.consumed, c.limit, ratio
}

// rolloverLocked resets the window when the period has elapsed. Caller
// holds c.mu. Multiple missed periods advance the window start to the most
// recent boundary so the window stays aligned.
func (c *Controller) rolloverLocked() {
	now := c.now()
	for !now.Before(c.windowStart.Add(c.period)) {
		c.windowStart = c.windowStart.Add(c.period)
		if c.consumed > 0 {
			log.Printf("[budget] window rolled over, resetting consumed %.2f", c.consumed)
		}
		c.consumed = 0
	}
}

// publishTierChange emits a BudgetTierChanged event. Best-effort.
func (c *Controller) publishTierChange(old, next models.Tier, consumed, limit float64) {
	if c.bus == nil {
		return
	}
	msg, err := bus.NewMessage(MsgTypeTierChanged, "budget", TierChange{
		OldTier:  old,
		NewTier:  next,
		Consumed: consumed,
		Limit:    limit,
	})
	if err != nil {
		log.Printf("[budget] failed to encode tier change event: %v", err)
		return
	}
	if err := c.bus.Publish(context.Background(), bus.TopicSystemAlert, msg); err != nil {
		log.Printf("[budget] failed to publish tier change event: %v", err)
	}
}

// SetClock replaces the controller's clock. Test hook.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
