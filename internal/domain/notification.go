package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType is the delivery channel for a notification.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypeSms   NotificationType = "sms"
)

func (t NotificationType) IsValid() bool {
	switch t {
	case TypeEmail, TypeSms:
		return true
	}
	return false
}

// Priority is the caller-requested urgency of a notification. It collapses
// onto a smaller set of queue classes (see QueueClass) for dispatch.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// QueueClass is one of the three bounded channels the priority queue
// maintains. Critical and High both land in QueueClassHigh.
type QueueClass string

const (
	QueueClassHigh   QueueClass = "high"
	QueueClassNormal QueueClass = "normal"
	QueueClassLow    QueueClass = "low"
)

// Class maps a priority onto its queue class. Unrecognized priorities
// default to normal rather than panicking.
func (p Priority) Class() QueueClass {
	switch p {
	case PriorityCritical, PriorityHigh:
		return QueueClassHigh
	case PriorityLow:
		return QueueClassLow
	default:
		return QueueClassNormal
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions enumerates every legal status change. Anything not listed
// here is rejected by TransitionTo.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusSent, StatusRetrying, StatusFailed, StatusCancelled},
	StatusRetrying:   {StatusPending},
	StatusSent:       {StatusDelivered, StatusFailed},
	StatusDelivered:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Notification is the root entity of the dispatch core. It is owned
// exclusively by the Store; the priority queue only ever holds a routing
// snapshot (see QueueItem) and workers re-read the row before acting on it.
type Notification struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	Type           NotificationType
	Status         Status
	Priority       Priority
	Recipient      string
	Subject        string
	Body           string
	Metadata       string
	CorrelationID  string
	IdempotencyKey *string
	RetryCount     int
	MaxRetries     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ScheduledAt    *time.Time
	QueuedAt       *time.Time
	SentAt         *time.Time
	DeliveredAt    *time.Time
	LastError      *string
	ExternalID     *string
	IsDeleted      bool
}

const DefaultMaxRetries = 3

func NewNotification(userID, subscriptionID uuid.UUID, typ NotificationType, recipient string) *Notification {
	now := time.Now().UTC()
	return &Notification{
		ID:             uuid.New(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Type:           typ,
		Status:         StatusPending,
		Priority:       PriorityNormal,
		Recipient:      recipient,
		MaxRetries:     DefaultMaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TransitionTo moves the notification to a new status, enforcing the state
// machine described in SPEC_FULL.md §5.6.1. Terminal statuses never change.
func (n *Notification) TransitionTo(to Status) error {
	if n.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal, cannot move to %s", ErrInvalidTransition, n.Status, to)
	}
	if !canTransition(n.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, to)
	}
	n.Status = to
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (n *Notification) CanCancel() bool {
	return n.Status == StatusPending
}

func (n *Notification) MarkProcessing() error {
	return n.TransitionTo(StatusProcessing)
}

func (n *Notification) MarkSent(externalID string) error {
	if err := n.TransitionTo(StatusSent); err != nil {
		return err
	}
	now := time.Now().UTC()
	n.SentAt = &now
	n.ExternalID = &externalID
	n.LastError = nil
	return nil
}

func (n *Notification) MarkDelivered() error {
	if err := n.TransitionTo(StatusDelivered); err != nil {
		return err
	}
	now := time.Now().UTC()
	n.DeliveredAt = &now
	return nil
}

func (n *Notification) MarkRetrying(reason string) error {
	n.RetryCount++
	n.LastError = &reason
	return n.TransitionTo(StatusRetrying)
}

func (n *Notification) MarkFailed(reason string) error {
	n.LastError = &reason
	return n.TransitionTo(StatusFailed)
}

func (n *Notification) MarkCancelled() error {
	return n.TransitionTo(StatusCancelled)
}

// ReleaseForRetry re-enters Pending after a scheduled backoff fires,
// the Retrying -> Pending transition from spec.
func (n *Notification) ReleaseForRetry() error {
	return n.TransitionTo(StatusPending)
}

// NotificationLog is an append-only record of a single state transition.
// Rows are never mutated, only inserted.
type NotificationLog struct {
	ID               uuid.UUID
	NotificationID   uuid.UUID
	Sequence         int64
	Status           Status
	Message          string
	Details          *string
	ProviderResponse *string
	CreatedAt        time.Time
}

func NewNotificationLog(notificationID uuid.UUID, status Status, message string) *NotificationLog {
	return &NotificationLog{
		ID:             uuid.New(),
		NotificationID: notificationID,
		Status:         status,
		Message:        message,
		CreatedAt:      time.Now().UTC(),
	}
}

// Content length limits from spec §3 and the boundary cases in spec §8.
const (
	MaxRecipientLen = 256
	MaxSubjectLen   = 500
	MaxEmailBodyLen = 10000
	MaxSmsBodyLen   = 160
	MaxMetadataLen  = 4000
	MaxCorrelation  = 64
	MaxIdempotency  = 64
)

// ValidateContent enforces the per-channel body length invariant.
func ValidateContent(typ NotificationType, body string) error {
	switch typ {
	case TypeSms:
		if len(body) > MaxSmsBodyLen {
			return NewValidationError("body", fmt.Sprintf("sms body exceeds %d characters", MaxSmsBodyLen))
		}
	case TypeEmail:
		if len(body) > MaxEmailBodyLen {
			return NewValidationError("body", fmt.Sprintf("email body exceeds %d characters", MaxEmailBodyLen))
		}
	}
	return nil
}

type NotificationFilter struct {
	SubscriptionID *uuid.UUID
	Status         *Status
	Type           *NotificationType
	Page           int
	PageSize       int
}

type NotificationListResult struct {
	Notifications []*Notification
	Total         int64
	Page          int
	PageSize      int
}
