package domain

import (
	"time"

	"github.com/google/uuid"
)

// OutboxMessageType names the domain event a webhook subscriber is
// notified about.
type OutboxMessageType string

const (
	EventNotificationSent      OutboxMessageType = "notification.sent"
	EventNotificationDelivered OutboxMessageType = "notification.delivered"
	EventNotificationFailed    OutboxMessageType = "notification.failed"
	EventNotificationCancelled OutboxMessageType = "notification.cancelled"
)

// OutboxMessage is written by the worker pool right after it updates a
// Notification's status, as a separate write rather than in the same
// transaction, and the dispatcher (C8) delivers it at least once. A
// crash between the two writes loses the event. AggregateID is the
// notification ID and is
// used as the ordering key: the dispatcher never delivers two messages
// for the same aggregate out of order.
type OutboxMessage struct {
	ID            uuid.UUID
	AggregateID   uuid.UUID
	SubscriptionID uuid.UUID
	EventType     OutboxMessageType
	Payload       string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
	Attempts      int
	LastError     *string
}

func NewOutboxMessage(aggregateID, subscriptionID uuid.UUID, eventType OutboxMessageType, payload string) *OutboxMessage {
	return &OutboxMessage{
		ID:             uuid.New(),
		AggregateID:    aggregateID,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
}

func (m *OutboxMessage) Dispatched() bool {
	return m.DispatchedAt != nil
}

func (m *OutboxMessage) MarkDispatched() {
	now := time.Now().UTC()
	m.DispatchedAt = &now
}

func (m *OutboxMessage) MarkAttemptFailed(reason string) {
	m.Attempts++
	m.LastError = &reason
}
