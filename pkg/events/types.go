package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a domain event.
type EventType string

const (
	// EventSubscriptionChanged fires after a verified payment webhook mutates
	// a user's subscription record.
	EventSubscriptionChanged EventType = "subscription.changed"

	// EventGenerationCompleted fires after a successful (non-cached) AI generation.
	EventGenerationCompleted EventType = "generation.completed"

	// EventQuotaExhausted fires when the quota gate denies a request.
	EventQuotaExhausted EventType = "quota.exhausted"
)

// Event is a domain event published on the in-process bus.
type Event struct {
	ID         string
	Type       EventType
	UserID     string
	OccurredAt time.Time
	Payload    map[string]interface{}
}

// NewEvent creates an event with a fresh ID and timestamp.
func NewEvent(eventType EventType, userID string, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}
