// Package ai orchestrates a single logical generation request: fingerprint,
// cache lookup, quota gate, provider call, cache write, usage increment.
//
// The ordering is deliberate. A cache hit returns before the quota gate, so
// hits are free. The ledger is incremented only after a successful provider
// call, so a user is never charged for a request the provider failed to
// fulfill. No lock is held across the provider call.
package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/sermonforge/server/internal/ledger"
	"github.com/sermonforge/server/internal/quota"
	"github.com/sermonforge/server/internal/respcache"
	"github.com/sermonforge/server/pkg/events"
	"github.com/sermonforge/server/pkg/metrics"
	"go.uber.org/zap"
)

// systemInstructions configure the model per capability.
var systemInstructions = map[quota.Capability]string{
	quota.CapabilitySermon: "You are an experienced homiletics assistant. Draft a complete, " +
		"well-structured sermon from the requested passage and theme: an engaging introduction, " +
		"clearly numbered main points grounded in the text, practical application, and a closing " +
		"call to response. Cite scripture references precisely.",
	quota.CapabilityCommentary: "You are a biblical commentary assistant. Explain the requested " +
		"passage verse by verse: historical and literary context, key terms in the original " +
		"languages where relevant, and major interpretive views, noted fairly.",
	quota.CapabilityExpository: "You are an expository analysis assistant. Produce a structural " +
		"outline of the requested passage: main clause flow, repeated terms, and the author's " +
		"argument, suitable as a skeleton for expository preaching.",
}

// Request is one logical generation request from an authenticated user.
type Request struct {
	Capability  quota.Capability
	Prompt      string
	History     []Message
	Temperature float64
	Language    string
}

// Gateway coordinates the stores and the external provider. It is stateless;
// all persistent state lives in the injected collaborators.
type Gateway struct {
	provider        Provider
	cache           *respcache.Cache
	gate            *quota.Gate
	ledger          *ledger.Ledger
	bus             *events.Bus
	logger          *zap.Logger
	maxOutputTokens int
}

// NewGateway creates an AI gateway.
func NewGateway(provider Provider, cache *respcache.Cache, gate *quota.Gate, l *ledger.Ledger, bus *events.Bus, logger *zap.Logger, maxOutputTokens int) *Gateway {
	return &Gateway{
		provider:        provider,
		cache:           cache,
		gate:            gate,
		ledger:          l,
		bus:             bus,
		logger:          logger,
		maxOutputTokens: maxOutputTokens,
	}
}

// Generate runs one request through the cache, the quota gate, and the
// provider. It returns the response text, or *QuotaExceededError,
// *ProviderError, or an infrastructure error.
func (g *Gateway) Generate(ctx context.Context, userID string, req Request) (string, error) {
	capability := string(req.Capability)
	conversation := BuildConversation(req.History, req.Prompt)
	opts := GenerationOptions{
		Temperature:     req.Temperature,
		MaxOutputTokens: g.maxOutputTokens,
		Language:        req.Language,
	}
	fingerprint := Fingerprint(req.Capability, conversation, opts)

	// Cache first: a hit costs the user nothing and skips the provider
	// entirely. A cache read failure is degraded to a miss, never an abort.
	entry, found, err := g.cache.Lookup(ctx, fingerprint)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("read").Inc()
		g.logger.Warn("response cache read failed, treating as miss",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
	}
	if found {
		metrics.CacheHits.WithLabelValues(capability).Inc()
		metrics.GenerationRequests.WithLabelValues(capability, "cache_hit").Inc()
		return entry.ResponseText, nil
	}
	metrics.CacheMisses.WithLabelValues(capability).Inc()

	decision, err := g.gate.Authorize(ctx, userID, req.Capability)
	if err != nil {
		return "", fmt.Errorf("quota authorization failed: %w", err)
	}
	if !decision.Allowed {
		metrics.QuotaDenials.WithLabelValues(capability, string(decision.Tier)).Inc()
		metrics.GenerationRequests.WithLabelValues(capability, "quota_denied").Inc()
		if g.bus != nil {
			g.bus.Publish(ctx, events.NewEvent(events.EventQuotaExhausted, userID, map[string]interface{}{
				"capability": capability,
				"tier":       string(decision.Tier),
			}))
		}
		return "", &QuotaExceededError{Capability: req.Capability, Remaining: decision.Remaining}
	}

	instruction := systemInstructions[req.Capability]
	if req.Language != "" {
		instruction = fmt.Sprintf("%s Respond in %s.", instruction, req.Language)
	}

	start := time.Now()
	text, err := g.provider.Generate(ctx, conversation, instruction, GenerationParams{
		Temperature:     req.Temperature,
		MaxOutputTokens: g.maxOutputTokens,
	})
	metrics.ProviderCallDuration.WithLabelValues(capability).Observe(time.Since(start).Seconds())
	if err != nil {
		// No cache write and no usage increment on failure.
		metrics.GenerationRequests.WithLabelValues(capability, "provider_error").Inc()
		return "", err
	}

	// Best effort: the response is already computed, a failed cache write
	// only costs a future provider call.
	if err := g.cache.Store(ctx, fingerprint, text, req.Prompt); err != nil {
		metrics.CacheErrors.WithLabelValues("write").Inc()
		g.logger.Warn("response cache write failed",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
	}

	if _, err := g.ledger.Increment(ctx, userID, capability, ledger.CurrentPeriod()); err != nil {
		// Under-counting favors the user; the response is still returned.
		g.logger.Error("usage increment failed after successful generation",
			zap.String("user_id", userID),
			zap.String("capability", capability),
			zap.Error(err),
		)
	}

	if g.bus != nil {
		g.bus.Publish(ctx, events.NewEvent(events.EventGenerationCompleted, userID, map[string]interface{}{
			"capability":  capability,
			"fingerprint": fingerprint,
		}))
	}

	metrics.GenerationRequests.WithLabelValues(capability, "success").Inc()
	return text, nil
}
