// Package respcache deduplicates AI provider calls by caching responses
// under a deterministic request fingerprint. Entries are shared across all
// users: two people asking the same question about the same passage reuse
// one provider call.
//
// The cache is strictly an optimization. Callers must treat a read failure
// as a miss and a write failure as ignorable; neither may abort a request.
package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sermonforge/server/pkg/cache"
	"go.uber.org/zap"
)

// Entry is a cached AI response. Once written it is immutable; the
// fingerprint derivation guarantees the same logical request always maps to
// the same entry.
type Entry struct {
	Fingerprint  string    `json:"fingerprint"`
	ResponseText string    `json:"response_text"`
	SourcePrompt string    `json:"source_prompt"`
	CreatedAt    time.Time `json:"created_at"`
}

// Cache is a Redis-backed response cache.
type Cache struct {
	store  *cache.Cache
	logger *zap.Logger
}

// New creates a response cache.
func New(store *cache.Cache, logger *zap.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

// Lookup returns the entry for a fingerprint. A miss is (nil, false, nil);
// only infrastructure failures produce an error.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	raw, err := c.store.Get(ctx, entryKey(fingerprint))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// A corrupt entry is unusable; treat it as a miss so the request
		// recomputes and overwrites it.
		c.logger.Warn("discarding corrupt cache entry",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
		return nil, false, nil
	}

	return &entry, true, nil
}

// Store persists a response under its fingerprint. Writes are idempotent:
// concurrent writers racing on the same fingerprint produce identical
// entries, so no locking is needed. Entries carry no TTL; retention is a
// storage policy, not cache logic.
func (c *Cache) Store(ctx context.Context, fingerprint, responseText, sourcePrompt string) error {
	entry := Entry{
		Fingerprint:  fingerprint,
		ResponseText: responseText,
		SourcePrompt: sourcePrompt,
		CreatedAt:    time.Now().UTC(),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache entry encode failed: %w", err)
	}

	if err := c.store.Set(ctx, entryKey(fingerprint), string(raw), 0); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}

	return nil
}

func entryKey(fingerprint string) string {
	return "aicache:" + fingerprint
}
