// Package ledger tracks per-user monthly usage counters for AI capabilities.
//
// Counters are stored in Redis under period-bucketed keys and mutated only
// with atomic INCR, so two concurrent generations by the same user are both
// counted. A counter is never decremented; a new billing period starts a new
// key. Keys expire well after the period ends, so the reset is implicit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sermonforge/server/pkg/cache"
	"go.uber.org/zap"
)

// counterTTL must outlive a calendar month so counts stay readable for the
// whole period; stale periods are garbage-collected by Redis.
const counterTTL = 45 * 24 * time.Hour

// Ledger provides atomic usage counting backed by Redis.
type Ledger struct {
	cache  *cache.Cache
	logger *zap.Logger
}

// New creates a usage ledger.
func New(c *cache.Cache, logger *zap.Logger) *Ledger {
	return &Ledger{cache: c, logger: logger}
}

// PeriodKey returns the usage-accounting period for t: the calendar month in
// UTC. All quota windows in the service share this rollover policy.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CurrentPeriod returns the period key for the present moment.
func CurrentPeriod() string {
	return PeriodKey(time.Now())
}

// Count returns the number of recorded uses for the key. A key with no prior
// increments counts as zero, not an error.
func (l *Ledger) Count(ctx context.Context, userID, capability, period string) (int64, error) {
	val, err := l.cache.Client.Get(ctx, counterKey(userID, capability, period)).Int64()
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return 0, nil
		}
		return 0, fmt.Errorf("usage count read failed: %w", err)
	}
	return val, nil
}

// Increment atomically adds one use and returns the new count.
func (l *Ledger) Increment(ctx context.Context, userID, capability, period string) (int64, error) {
	key := counterKey(userID, capability, period)

	count, err := l.cache.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("usage increment failed: %w", err)
	}

	// Set expiration on first increment
	if count == 1 {
		if err := l.cache.Expire(ctx, key, counterTTL); err != nil {
			l.logger.Warn("failed to set usage counter TTL",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	return count, nil
}

func counterKey(userID, capability, period string) string {
	return fmt.Sprintf("usage:%s:%s:%s", userID, capability, period)
}
