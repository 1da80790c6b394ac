// Package subscription owns the authoritative per-user subscription record.
// The record is mutated only by the payment webhook synchronizer; everything
// else (the quota gate in particular) reads it.
package subscription

import (
	"context"
	"errors"
	"time"
)

// Tier is a subscription level determining quota limits.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Status is the lifecycle state reported by the payment provider.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
	StatusNone     Status = "none"
)

// ErrNotFound is returned by Get when no record exists for the user.
var ErrNotFound = errors.New("subscription not found")

// Record is a user's subscription state.
//
// LastUpdated only moves forward: an upsert carrying an older or equal
// timestamp than the stored record must not overwrite it. This resolves
// out-of-order delivery of at-least-once payment webhooks.
type Record struct {
	UserID         string
	Tier           Tier
	Status         Status
	SubscriptionID string
	LastUpdated    time.Time
}

// Entitled reports whether the record grants access to its tier's paid
// quota. Canceled and delinquent subscriptions fall back to free limits.
func (r Record) Entitled() bool {
	return r.Status == StatusActive || r.Status == StatusTrialing
}

// Default returns the record assumed for a user who has never subscribed.
func Default(userID string) Record {
	return Record{
		UserID: userID,
		Tier:   TierFree,
		Status: StatusNone,
	}
}

// Store persists subscription records.
type Store interface {
	// Get returns the record for a user, or ErrNotFound.
	Get(ctx context.Context, userID string) (Record, error)

	// Upsert creates or updates a record, but only when the incoming
	// LastUpdated is strictly newer than the stored one. It returns true
	// when the write was applied and false when it was rejected as stale.
	Upsert(ctx context.Context, rec Record) (bool, error)
}
