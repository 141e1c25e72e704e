package model

import "strings"

type SubscriptionTier string

const (
	Tier1 SubscriptionTier = "tier1"
	Tier2 SubscriptionTier = "tier2"
	Tier3 SubscriptionTier = "tier3"
)

// Tiers lists every tier; quota tables must cover all of them.
var Tiers = []SubscriptionTier{Tier1, Tier2, Tier3}

func (t SubscriptionTier) String() string { return string(t) }

func (t SubscriptionTier) Valid() bool {
	return t == Tier1 || t == Tier2 || t == Tier3
}

// ParseTier normalizes input. Unknown names are rejected rather than mapped
// to a default tier.
func ParseTier(s string) (SubscriptionTier, bool) {
	t := SubscriptionTier(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}
