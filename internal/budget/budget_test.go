package budget

import (
	"testing"
	"time"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

func TestController_TierFor(t *testing.T) {
	tests := []struct {
		name     string
		consumed float64
		want     models.Tier
	}{
		{"fresh window allows premium", 0, models.TierPremium},
		{"just below standard threshold", 79.9, models.TierPremium},
		{"at standard threshold", 80, models.TierStandard},
		{"between thresholds", 90, models.TierStandard},
		{"at local threshold", 95, models.TierLocal},
		{"above local threshold", 120, models.TierLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{Limit: 100}, nil)
			c.RecordSpend(tt.consumed)
			if got := c.TierFor(0); got != tt.want {
				t.Errorf("TierFor(0) with consumed=%.1f = %s, want %s", tt.consumed, got, tt.want)
			}
		})
	}
}

func TestController_TierForCountsEstimate(t *testing.T) {
	c := New(Config{Limit: 100}, nil)
	c.RecordSpend(75)

	if got := c.TierFor(0); got != models.TierPremium {
		t.Errorf("TierFor(0) = %s, want premium", got)
	}
	// A task that would push the window past 80% is downgraded up front.
	if got := c.TierFor(10); got != models.TierStandard {
		t.Errorf("TierFor(10) = %s, want standard", got)
	}
}

func TestController_NoLimitAlwaysPremium(t *testing.T) {
	c := New(Config{Limit: 0}, nil)
	c.RecordSpend(1e6)
	if got := c.TierFor(1e6); got != models.TierPremium {
		t.Errorf("TierFor with no limit = %s, want premium", got)
	}
}

func TestController_ConsumedIsMonotonic(t *testing.T) {
	c := New(Config{Limit: 100}, nil)

	c.RecordSpend(10)
	c.RecordSpend(-5) // ignored
	c.RecordSpend(0)  // ignored

	consumed, _, _ := c.Usage()
	if consumed != 10 {
		t.Errorf("consumed = %.2f, want 10 (negative and zero spend ignored)", consumed)
	}
}

func TestController_TierIsNonIncreasingInConsumed(t *testing.T) {
	c := New(Config{Limit: 100}, nil)

	prev := c.TierFor(0)
	for i := 0; i < 25; i++ {
		c.RecordSpend(5)
		cur := c.TierFor(0)
		if cur.Rank() > prev.Rank() {
			t.Fatalf("tier escalated from %s to %s as consumed grew", prev, cur)
		}
		prev = cur
	}
	if prev != models.TierLocal {
		t.Errorf("final tier = %s, want local", prev)
	}
}

func TestController_WindowRollover(t *testing.T) {
	c := New(Config{Limit: 100, Period: time.Hour}, nil)

	base := time.Now()
	current := base
	c.SetClock(func() time.Time { return current })

	c.RecordSpend(90)
	if got := c.TierFor(0); got != models.TierStandard {
		t.Fatalf("tier before rollover = %s, want standard", got)
	}

	current = base.Add(time.Hour + time.Minute)
	if got := c.TierFor(0); got != models.TierPremium {
		t.Errorf("tier after rollover = %s, want premium", got)
	}
	consumed, _, _ := c.Usage()
	if consumed != 0 {
		t.Errorf("consumed after rollover = %.2f, want 0", consumed)
	}
}

func TestController_MidWorkflowDowngrade(t *testing.T) {
	// Budget consumed reaching 85% of limit must downgrade subsequent
	// routing decisions from premium to standard.
	c := New(Config{Limit: 100}, nil)

	c.RecordSpend(60)
	if got := c.TierFor(1); got != models.TierPremium {
		t.Fatalf("tier at 60%% = %s, want premium", got)
	}

	c.RecordSpend(25)
	if got := c.TierFor(1); got != models.TierStandard {
		t.Errorf("tier at 85%% = %s, want standard", got)
	}
}
