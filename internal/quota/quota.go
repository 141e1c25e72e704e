// Package quota turns a user's tier, subscription status and monthly
// submission count into an allow/deny decision.
package quota

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/label-dispatch/internal/config"
	"github.com/jmehdipour/label-dispatch/internal/model"
)

// Unlimited marks a tier without a monthly cap.
const Unlimited = -1

type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited,omitempty"`
}

// Table maps every tier to its monthly cap.
type Table map[model.SubscriptionTier]int

// NewTable requires an entry for every known tier so a typo can never fall
// back to some default cap.
func NewTable(raw map[string]int) (Table, error) {
	t := make(Table, len(model.Tiers))
	for name, limit := range raw {
		tier, ok := model.ParseTier(name)
		if !ok {
			return nil, fmt.Errorf("quota: unknown tier %q", name)
		}
		if limit < Unlimited {
			return nil, fmt.Errorf("quota: tier %s has invalid cap %d", tier, limit)
		}
		t[tier] = limit
	}
	for _, tier := range model.Tiers {
		if _, ok := t[tier]; !ok {
			return nil, fmt.Errorf("quota: tier %s has no cap", tier)
		}
	}
	return t, nil
}

type Engine struct {
	table  Table
	active map[string]bool
	grace  map[string]bool
	loc    *time.Location
}

func NewEngine(cfg config.QuotaConfig) (*Engine, error) {
	table, err := NewTable(cfg.Tiers)
	if err != nil {
		return nil, err
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("quota: timezone %q: %w", tz, err)
	}
	return &Engine{
		table:  table,
		active: toSet(cfg.ActiveStatuses),
		grace:  toSet(cfg.GraceStatuses),
		loc:    loc,
	}, nil
}

func toSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[normalizeStatus(s)] = true
	}
	return out
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Location is the timezone month boundaries are computed in.
func (e *Engine) Location() *time.Location { return e.loc }

// Limit returns the tier cap, or false for a tier outside the table.
func (e *Engine) Limit(tier model.SubscriptionTier) (int, bool) {
	l, ok := e.table[tier]
	return l, ok
}

// CanSubmit decides from the authoritative monthly count. Inactive
// subscriptions are denied unless their status is on the grace list.
func (e *Engine) CanSubmit(monthlyCount int, tier model.SubscriptionTier, status string) Decision {
	if monthlyCount < 0 {
		monthlyCount = 0
	}
	limit, ok := e.Limit(tier)
	if !ok {
		return Decision{}
	}

	st := normalizeStatus(status)
	if !e.active[st] && !e.grace[st] {
		if limit == Unlimited {
			return Decision{Limit: Unlimited, Unlimited: true}
		}
		return Decision{Limit: limit}
	}

	if limit == Unlimited {
		return Decision{Allowed: true, Remaining: Unlimited, Limit: Unlimited, Unlimited: true}
	}
	return Decision{
		Allowed:   monthlyCount < limit,
		Remaining: max(0, limit-monthlyCount),
		Limit:     limit,
	}
}

// MonthRange returns [first of month, first of next month) for now in loc.
func MonthRange(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
