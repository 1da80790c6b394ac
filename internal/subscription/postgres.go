package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sermonforge/server/pkg/database"
)

// PostgresStore persists subscription records in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE subscriptions (
//	    user_id         TEXT PRIMARY KEY,
//	    tier            TEXT NOT NULL,
//	    status          TEXT NOT NULL,
//	    subscription_id TEXT NOT NULL,
//	    last_updated    TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *database.Database
}

// NewPostgresStore creates a Postgres-backed subscription store.
func NewPostgresStore(db *database.Database) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the record for a user, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, userID string) (Record, error) {
	query := `
		SELECT user_id, tier, status, subscription_id, last_updated
		FROM subscriptions
		WHERE user_id = $1
	`

	var rec Record
	err := s.db.Pool.QueryRow(ctx, query, userID).Scan(
		&rec.UserID, &rec.Tier, &rec.Status, &rec.SubscriptionID, &rec.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to load subscription: %w", err)
	}

	return rec, nil
}

// Upsert applies the record with compare-and-swap semantics on last_updated.
// The conditional ON CONFLICT update makes the stale check and the write a
// single atomic statement, so concurrent webhook deliveries cannot interleave
// a read-modify-write race.
func (s *PostgresStore) Upsert(ctx context.Context, rec Record) (bool, error) {
	query := `
		INSERT INTO subscriptions (user_id, tier, status, subscription_id, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier,
		    status = EXCLUDED.status,
		    subscription_id = EXCLUDED.subscription_id,
		    last_updated = EXCLUDED.last_updated
		WHERE subscriptions.last_updated < EXCLUDED.last_updated
	`

	tag, err := s.db.Pool.Exec(ctx, query,
		rec.UserID, rec.Tier, rec.Status, rec.SubscriptionID, rec.LastUpdated,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
