package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the subset of OutboxMessageType a subscriber can opt
// into; kept distinct from OutboxMessageType so a subscription's Events
// list can be validated independently of the event taxonomy growing.
type WebhookEvent string

const (
	WebhookEventSent       WebhookEvent = "notification.sent"
	WebhookEventDelivered  WebhookEvent = "notification.delivered"
	WebhookEventFailed     WebhookEvent = "notification.failed"
	WebhookEventCancelled  WebhookEvent = "notification.cancelled"
)

// WebhookSubscription is a tenant-registered HTTP callback. Signing uses
// Secret as an HMAC-SHA256 key over the raw payload body (see
// internal/outbox/signature.go).
type WebhookSubscription struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	URL            string
	Secret         string
	Events         []WebhookEvent
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewWebhookSubscription(subscriptionID uuid.UUID, url, secret string, events []WebhookEvent) *WebhookSubscription {
	now := time.Now().UTC()
	return &WebhookSubscription{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		URL:            url,
		Secret:         secret,
		Events:         events,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Wants reports whether this subscriber is registered for the given
// outbox event type.
func (w *WebhookSubscription) Wants(eventType OutboxMessageType) bool {
	if !w.Active {
		return false
	}
	for _, e := range w.Events {
		if string(e) == string(eventType) {
			return true
		}
	}
	return false
}
