package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sermonforge/server/internal/ledger"
	"github.com/sermonforge/server/internal/subscription"
	"github.com/sermonforge/server/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingSubsStore struct{}

func (failingSubsStore) Get(ctx context.Context, userID string) (subscription.Record, error) {
	return subscription.Record{}, errors.New("connection refused")
}

func (failingSubsStore) Upsert(ctx context.Context, rec subscription.Record) (bool, error) {
	return false, errors.New("connection refused")
}

func newTestGate(t *testing.T) (*Gate, subscription.Store, *ledger.Ledger) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := ledger.New(cache.NewCacheWithClient(client), zap.NewNop())
	subs := subscription.NewMemoryStore()
	return NewGate(subs, l, zap.NewNop()), subs, l
}

func subscribePremium(t *testing.T, subs subscription.Store, userID string) {
	t.Helper()
	_, err := subs.Upsert(context.Background(), subscription.Record{
		UserID: userID, Tier: subscription.TierPremium,
		Status: subscription.StatusActive, SubscriptionID: "sub-1",
		LastUpdated: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestGate_FreeUserWithinLimit(t *testing.T) {
	g, _, _ := newTestGate(t)

	d, err := g.Authorize(context.Background(), "user-1", CapabilityCommentary)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(5), d.Remaining)
	assert.Equal(t, subscription.TierFree, d.Tier)
}

func TestGate_DeniesAtExactLimit(t *testing.T) {
	g, _, l := newTestGate(t)
	ctx := context.Background()
	period := ledger.CurrentPeriod()

	// limit-1 uses: still allowed
	for i := 0; i < 4; i++ {
		_, err := l.Increment(ctx, "user-1", string(CapabilityCommentary), period)
		require.NoError(t, err)
	}

	d, err := g.Authorize(ctx, "user-1", CapabilityCommentary)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)

	// one more use reaches the limit: denied
	_, err = l.Increment(ctx, "user-1", string(CapabilityCommentary), period)
	require.NoError(t, err)

	d, err = g.Authorize(ctx, "user-1", CapabilityCommentary)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
}

func TestGate_PremiumIsUnlimited(t *testing.T) {
	g, subs, l := newTestGate(t)
	ctx := context.Background()
	subscribePremium(t, subs, "user-1")

	for i := 0; i < 20; i++ {
		_, err := l.Increment(ctx, "user-1", string(CapabilitySermon), ledger.CurrentPeriod())
		require.NoError(t, err)
	}

	d, err := g.Authorize(ctx, "user-1", CapabilitySermon)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, Unlimited, d.Remaining)
	assert.Equal(t, subscription.TierPremium, d.Tier)
}

func TestGate_CanceledPremiumGatesAtFree(t *testing.T) {
	g, subs, _ := newTestGate(t)
	ctx := context.Background()

	_, err := subs.Upsert(ctx, subscription.Record{
		UserID: "user-1", Tier: subscription.TierPremium,
		Status: subscription.StatusCanceled, SubscriptionID: "sub-1",
		LastUpdated: time.Now().UTC(),
	})
	require.NoError(t, err)

	d, err := g.Authorize(ctx, "user-1", CapabilitySermon)
	require.NoError(t, err)
	assert.Equal(t, subscription.TierFree, d.Tier)
	assert.Equal(t, int64(1), d.Remaining)
}

func TestGate_UnknownCapabilityIsDenied(t *testing.T) {
	g, subs, _ := newTestGate(t)
	subscribePremium(t, subs, "user-1")

	d, err := g.Authorize(context.Background(), "user-1", Capability("illustrations"))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
}

func TestGate_Report(t *testing.T) {
	g, _, l := newTestGate(t)
	ctx := context.Background()
	period := ledger.CurrentPeriod()

	for i := 0; i < 3; i++ {
		_, err := l.Increment(ctx, "user-1", string(CapabilityCommentary), period)
		require.NoError(t, err)
	}

	tier, report, err := g.Report(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, subscription.TierFree, tier)
	require.Len(t, report, 3)

	byCapability := map[Capability]CapabilityUsage{}
	for _, row := range report {
		byCapability[row.Capability] = row
	}
	assert.Equal(t, CapabilityUsage{CapabilitySermon, 0, 1, 1}, byCapability[CapabilitySermon])
	assert.Equal(t, CapabilityUsage{CapabilityCommentary, 3, 5, 2}, byCapability[CapabilityCommentary])
}

func TestGate_ReportPremiumIsUnlimited(t *testing.T) {
	g, subs, l := newTestGate(t)
	ctx := context.Background()
	subscribePremium(t, subs, "user-1")

	_, err := l.Increment(ctx, "user-1", string(CapabilitySermon), ledger.CurrentPeriod())
	require.NoError(t, err)

	tier, report, err := g.Report(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, subscription.TierPremium, tier)

	for _, row := range report {
		assert.Equal(t, Unlimited, row.Limit)
		assert.Equal(t, Unlimited, row.Remaining)
	}
}

func TestGate_SubscriptionStoreFailureGatesAtFree(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := ledger.New(cache.NewCacheWithClient(client), zap.NewNop())
	g := NewGate(failingSubsStore{}, l, zap.NewNop())

	d, err := g.Authorize(context.Background(), "user-1", CapabilityCommentary)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, subscription.TierFree, d.Tier)
}
