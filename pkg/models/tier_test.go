package models

import "testing"

func TestTier_Valid(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		want bool
	}{
		{"premium is valid", TierPremium, true},
		{"standard is valid", TierStandard, true},
		{"local is valid", TierLocal, true},
		{"empty string is invalid", Tier(""), false},
		{"unknown tier is invalid", Tier("platinum"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.Valid(); got != tt.want {
				t.Errorf("Tier(%q).Valid() = %v, want %v", tt.tier, got, tt.want)
			}
		})
	}
}

func TestTier_Rank_Ordering(t *testing.T) {
	if TierPremium.Rank() <= TierStandard.Rank() {
		t.Error("premium must rank above standard")
	}
	if TierStandard.Rank() <= TierLocal.Rank() {
		t.Error("standard must rank above local")
	}
	if Tier("bogus").Rank() >= TierLocal.Rank() {
		t.Error("unknown tiers must rank below local")
	}
}

func TestTier_AtMost(t *testing.T) {
	tests := []struct {
		name  string
		tier  Tier
		limit Tier
		want  bool
	}{
		{"local within standard", TierLocal, TierStandard, true},
		{"standard within premium", TierStandard, TierPremium, true},
		{"tier within itself", TierStandard, TierStandard, true},
		{"premium exceeds standard", TierPremium, TierStandard, false},
		{"standard exceeds local", TierStandard, TierLocal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.AtMost(tt.limit); got != tt.want {
				t.Errorf("%s.AtMost(%s) = %v, want %v", tt.tier, tt.limit, got, tt.want)
			}
		})
	}
}
