package models

// Tier represents a budget-derived class of permissible backend providers.
type Tier string

const (
	// TierPremium allows the most capable (and most expensive) providers.
	TierPremium Tier = "premium"
	// TierStandard allows mid-cost providers only.
	TierStandard Tier = "standard"
	// TierLocal restricts execution to local, zero-marginal-cost backends.
	TierLocal Tier = "local"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierPremium, TierStandard, TierLocal:
		return true
	default:
		return false
	}
}

// Rank orders tiers by cost ceiling: Premium > Standard > Local. Unknown
// tiers rank below Local.
func (t Tier) Rank() int {
	switch t {
	case TierPremium:
		return 2
	case TierStandard:
		return 1
	case TierLocal:
		return 0
	default:
		return -1
	}
}

// AtMost returns true if t is no more expensive than limit. Used to verify
// that routing never escalates above the budget-derived tier.
func (t Tier) AtMost(limit Tier) bool {
	return t.Rank() <= limit.Rank()
}
