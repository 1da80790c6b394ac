package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpsertCreatesAndUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	applied, err := s.Upsert(ctx, Record{
		UserID: "user-1", Tier: TierPremium, Status: StatusActive,
		SubscriptionID: "sub-1", LastUpdated: t0,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Upsert(ctx, Record{
		UserID: "user-1", Tier: TierPremium, Status: StatusCanceled,
		SubscriptionID: "sub-1", LastUpdated: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	rec, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, rec.Status)
}

func TestMemoryStore_StaleUpsertRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Upsert(ctx, Record{
		UserID: "user-1", Tier: TierPremium, Status: StatusActive,
		SubscriptionID: "sub-1", LastUpdated: t0,
	})
	require.NoError(t, err)

	// Older and equal timestamps must both be rejected.
	for _, ts := range []time.Time{t0.Add(-time.Minute), t0} {
		applied, err := s.Upsert(ctx, Record{
			UserID: "user-1", Tier: TierFree, Status: StatusCanceled,
			SubscriptionID: "sub-1", LastUpdated: ts,
		})
		require.NoError(t, err)
		assert.False(t, applied)
	}

	rec, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, TierPremium, rec.Tier)
}

func TestRecord_Entitled(t *testing.T) {
	tests := []struct {
		status   Status
		entitled bool
	}{
		{StatusActive, true},
		{StatusTrialing, true},
		{StatusCanceled, false},
		{StatusPastDue, false},
		{StatusNone, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			rec := Record{Status: tt.status}
			assert.Equal(t, tt.entitled, rec.Entitled())
		})
	}
}

func TestDefault(t *testing.T) {
	rec := Default("user-1")
	assert.Equal(t, TierFree, rec.Tier)
	assert.Equal(t, StatusNone, rec.Status)
	assert.False(t, rec.Entitled())
}
