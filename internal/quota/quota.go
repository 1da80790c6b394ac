// Package quota decides whether a user may run an AI capability, based on
// their subscription tier and the usage already recorded this period.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/sermonforge/server/internal/ledger"
	"github.com/sermonforge/server/internal/subscription"
	"go.uber.org/zap"
)

// Capability is a distinct kind of AI-backed feature with its own quota.
type Capability string

const (
	CapabilitySermon     Capability = "sermon"
	CapabilityCommentary Capability = "commentary"
	CapabilityExpository Capability = "expository"
)

// Unlimited marks a capability with no monthly cap.
const Unlimited int64 = -1

// Limits is the static monthly quota table, read-only at runtime.
// A capability a tier does not list is denied outright: quotas fail closed,
// so a new capability grants nothing until it is added here.
var Limits = map[subscription.Tier]map[Capability]int64{
	subscription.TierFree: {
		CapabilitySermon:     1,
		CapabilityCommentary: 5,
		CapabilityExpository: 5,
	},
	subscription.TierPremium: {
		CapabilitySermon:     Unlimited,
		CapabilityCommentary: Unlimited,
		CapabilityExpository: Unlimited,
	},
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed   bool
	Remaining int64
	Tier      subscription.Tier
}

// Gate authorizes capability use. It holds no state of its own; every
// decision reads the subscription store and the usage ledger.
type Gate struct {
	subs   subscription.Store
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewGate creates a quota gate.
func NewGate(subs subscription.Store, l *ledger.Ledger, logger *zap.Logger) *Gate {
	return &Gate{subs: subs, ledger: l, logger: logger}
}

// Authorize checks whether userID may run capability right now.
func (g *Gate) Authorize(ctx context.Context, userID string, capability Capability) (Decision, error) {
	tier := g.effectiveTier(ctx, userID)

	tierLimits, ok := Limits[tier]
	if !ok {
		// Unknown tier falls back to the most restrictive known one.
		g.logger.Warn("unknown subscription tier, treating as free",
			zap.String("user_id", userID),
			zap.String("tier", string(tier)),
		)
		tier = subscription.TierFree
		tierLimits = Limits[tier]
	}

	limit, ok := tierLimits[capability]
	if !ok {
		return Decision{Allowed: false, Remaining: 0, Tier: tier}, nil
	}

	if limit == Unlimited {
		return Decision{Allowed: true, Remaining: Unlimited, Tier: tier}, nil
	}

	count, err := g.ledger.Count(ctx, userID, string(capability), ledger.CurrentPeriod())
	if err != nil {
		return Decision{}, fmt.Errorf("quota check failed: %w", err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count < limit,
		Remaining: remaining,
		Tier:      tier,
	}, nil
}

// CapabilityUsage is one row of a user's usage report.
type CapabilityUsage struct {
	Capability Capability `json:"capability"`
	Used       int64      `json:"used"`
	Limit      int64      `json:"limit"`
	Remaining  int64      `json:"remaining"`
}

// Report summarizes the user's current-period usage against their tier's
// limits. Unlimited capabilities report Limit and Remaining of -1.
func (g *Gate) Report(ctx context.Context, userID string) (subscription.Tier, []CapabilityUsage, error) {
	tier := g.effectiveTier(ctx, userID)
	tierLimits, ok := Limits[tier]
	if !ok {
		tier = subscription.TierFree
		tierLimits = Limits[tier]
	}

	period := ledger.CurrentPeriod()
	report := make([]CapabilityUsage, 0, len(tierLimits))
	for _, capability := range []Capability{CapabilitySermon, CapabilityCommentary, CapabilityExpository} {
		limit, ok := tierLimits[capability]
		if !ok {
			continue
		}

		count, err := g.ledger.Count(ctx, userID, string(capability), period)
		if err != nil {
			return tier, nil, fmt.Errorf("usage report failed: %w", err)
		}

		remaining := Unlimited
		if limit != Unlimited {
			remaining = limit - count
			if remaining < 0 {
				remaining = 0
			}
		}

		report = append(report, CapabilityUsage{
			Capability: capability,
			Used:       count,
			Limit:      limit,
			Remaining:  remaining,
		})
	}

	return tier, report, nil
}

// effectiveTier resolves the tier that limits apply under. Users without a
// record, and users whose subscription is canceled or delinquent, gate at
// the free tier.
func (g *Gate) effectiveTier(ctx context.Context, userID string) subscription.Tier {
	rec, err := g.subs.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, subscription.ErrNotFound) {
			// Degraded subscription storage must not grant paid limits.
			g.logger.Error("subscription lookup failed, gating at free tier",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return subscription.TierFree
	}

	if !rec.Entitled() {
		return subscription.TierFree
	}

	return rec.Tier
}
