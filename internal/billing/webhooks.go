// Package billing synchronizes subscription state from payment-provider
// webhooks. Delivery is at-least-once and unordered, so every handler here
// is idempotent and upserts are guarded by the record's last-updated
// timestamp; re-running any event is always safe.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sermonforge/server/internal/subscription"
	"github.com/sermonforge/server/pkg/cache"
	"github.com/sermonforge/server/pkg/events"
	"github.com/sermonforge/server/pkg/metrics"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

const (
	eventProcessedTTL  = 24 * time.Hour
	eventProcessingTTL = 5 * time.Minute
)

// Subscription lifecycle event types the synchronizer applies. Anything
// else is acknowledged without mutation so the provider stops retrying.
const (
	EventSubscriptionCreated   = "subscription_created"
	EventSubscriptionUpdated   = "subscription_updated"
	EventSubscriptionCancelled = "subscription_cancelled"
	EventSubscriptionExpired   = "subscription_expired"
	EventPaymentSuccess        = "subscription_payment_success"
	EventPaymentFailed         = "subscription_payment_failed"
)

// WebhookHandler verifies and applies payment-provider events.
type WebhookHandler struct {
	secret    []byte
	subs      subscription.Store
	planTiers map[string]subscription.Tier
	cache     *cache.Cache
	bus       *events.Bus
	logger    *zap.Logger
}

// NewWebhookHandler creates a webhook handler. planTiers maps provider plan
// IDs to local tiers; unmapped plans resolve to the free tier. cache and bus
// may be nil: the in-flight dedup lock and event publication are optional,
// correctness rests on the idempotent upsert alone.
func NewWebhookHandler(secret string, subs subscription.Store, planTiers map[string]subscription.Tier, c *cache.Cache, bus *events.Bus, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:    []byte(secret),
		subs:      subs,
		planTiers: planTiers,
		cache:     c,
		bus:       bus,
		logger:    logger,
	}
}

type webhookPayload struct {
	EventType string `json:"event_type"`
	Data      struct {
		ID         string    `json:"id"`
		Status     string    `json:"status"`
		PlanID     string    `json:"plan_id"`
		UpdatedAt  time.Time `json:"updated_at"`
		CustomData struct {
			UserID string `json:"user_id"`
		} `json:"custom_data"`
	} `json:"data"`
}

// HandleWebhook processes one inbound payment-provider event.
//
// The body is never parsed before the signature check passes. Any
// non-success response makes the provider redeliver, so everything that is
// not an actual processing failure (unattributable events, stale events,
// unhandled types) is acknowledged with 200.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if len(h.secret) == 0 {
		// Refuse to guess: an unset secret must not silently accept events.
		h.logger.Error("webhook secret is not configured")
		http.Error(w, "webhook not configured", http.StatusInternalServerError)
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		h.logger.Warn("webhook signature verification failed")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("verified webhook body is not valid JSON", zap.Error(err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if payload.Data.CustomData.UserID == "" {
		// Without a user correlation the event cannot be attributed.
		// Acknowledge receipt so the provider stops retrying.
		metrics.WebhookEvents.WithLabelValues(payload.EventType, "skipped").Inc()
		h.logger.Info("webhook event has no user correlation, skipping",
			zap.String("event_type", payload.EventType),
			zap.String("subscription_id", payload.Data.ID),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Concurrent redelivery dedup. Best effort: losing the lock means the
	// same event is mid-flight elsewhere; the upsert below is idempotent
	// either way.
	lockKey, acquired := h.reserveEvent(ctx, body)
	if !acquired {
		h.logger.Info("duplicate webhook delivery already in progress",
			zap.String("event_type", payload.EventType),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	result, err := h.apply(ctx, payload)
	h.finalizeEvent(ctx, lockKey, err == nil)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(payload.EventType, "failed").Inc()
		h.logger.Error("webhook event processing failed",
			zap.Error(err),
			zap.String("event_type", payload.EventType),
			zap.String("user_id", payload.Data.CustomData.UserID),
		)
		http.Error(w, "event processing failed", http.StatusInternalServerError)
		return
	}

	metrics.WebhookEvents.WithLabelValues(payload.EventType, result).Inc()
	w.WriteHeader(http.StatusOK)
}

// apply routes a verified, attributed event. Returns the metric result
// label: applied, stale, or unhandled.
func (h *WebhookHandler) apply(ctx context.Context, payload webhookPayload) (string, error) {
	switch payload.EventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionCancelled,
		EventSubscriptionExpired, EventPaymentSuccess, EventPaymentFailed:
	default:
		h.logger.Info("acknowledging unhandled webhook event type",
			zap.String("event_type", payload.EventType),
		)
		return "unhandled", nil
	}

	rec := subscription.Record{
		UserID:         payload.Data.CustomData.UserID,
		Tier:           h.planTier(payload.Data.PlanID),
		Status:         mapStatus(payload.EventType, payload.Data.Status),
		SubscriptionID: payload.Data.ID,
		LastUpdated:    payload.Data.UpdatedAt,
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}

	applied, err := h.subs.Upsert(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to upsert subscription: %w", err)
	}

	if !applied {
		// Out-of-order or duplicate delivery: the stored state is as new or
		// newer. A deliberate no-op, acknowledged as success.
		h.logger.Info("stale webhook event, keeping stored subscription state",
			zap.String("event_type", payload.EventType),
			zap.String("user_id", rec.UserID),
			zap.Time("event_updated_at", rec.LastUpdated),
		)
		return "stale", nil
	}

	h.logger.Info("subscription updated from webhook",
		zap.String("event_type", payload.EventType),
		zap.String("user_id", rec.UserID),
		zap.String("tier", string(rec.Tier)),
		zap.String("status", string(rec.Status)),
		zap.String("subscription_id", rec.SubscriptionID),
	)

	if h.bus != nil {
		h.bus.Publish(ctx, events.NewEvent(events.EventSubscriptionChanged, rec.UserID, map[string]interface{}{
			"tier":   string(rec.Tier),
			"status": string(rec.Status),
		}))
	}

	return "applied", nil
}

// reserveEvent takes a short-lived Redis lock on the event body digest so
// two concurrent deliveries of the same event do not both apply it. Without
// a cache the lock is skipped; a cache failure fails open, since the upsert
// is idempotent anyway.
func (h *WebhookHandler) reserveEvent(ctx context.Context, body []byte) (string, bool) {
	if h.cache == nil {
		return "", true
	}

	digest := sha256.Sum256(body)
	key := "webhooks:payments:" + hex.EncodeToString(digest[:])

	acquired, err := h.cache.SetNX(ctx, key, "processing", eventProcessingTTL)
	if err != nil {
		h.logger.Warn("failed to reserve webhook event, proceeding without lock", zap.Error(err))
		return "", true
	}
	return key, acquired
}

// finalizeEvent marks a reserved event done, or releases the lock on failure
// so the provider's retry can take it again.
func (h *WebhookHandler) finalizeEvent(ctx context.Context, lockKey string, success bool) {
	if h.cache == nil || lockKey == "" {
		return
	}

	if success {
		if err := h.cache.Set(ctx, lockKey, "processed", eventProcessedTTL); err != nil {
			h.logger.Warn("failed to persist webhook completion", zap.Error(err))
		}
		return
	}

	if err := h.cache.Delete(ctx, lockKey); err != nil {
		h.logger.Warn("failed to release webhook event lock", zap.Error(err))
	}
}

// verifySignature compares the hex HMAC-SHA256 of the raw body against the
// header value in constant time.
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// planTier maps a provider plan ID to a local tier, defaulting to free.
func (h *WebhookHandler) planTier(planID string) subscription.Tier {
	if tier, ok := h.planTiers[planID]; ok {
		return tier
	}
	return subscription.TierFree
}

// mapStatus maps a provider subscription status to local state. Unknown
// statuses resolve to canceled so they never grant paid limits; lifecycle
// event types that imply a status override an absent one.
func mapStatus(eventType, providerStatus string) subscription.Status {
	switch providerStatus {
	case "active":
		return subscription.StatusActive
	case "on_trial", "trialing":
		return subscription.StatusTrialing
	case "past_due", "unpaid":
		return subscription.StatusPastDue
	case "cancelled", "canceled", "expired":
		return subscription.StatusCanceled
	}

	switch eventType {
	case EventSubscriptionCancelled, EventSubscriptionExpired:
		return subscription.StatusCanceled
	case EventPaymentFailed:
		return subscription.StatusPastDue
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventPaymentSuccess:
		return subscription.StatusActive
	}

	return subscription.StatusCanceled
}
