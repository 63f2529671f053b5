// Package service implements the Intake Service (C5): notification
// creation, cancellation, and listing, including idempotent intake and
// per-subscription quota enforcement.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/domain"
)

const maxBatchSize = 1000

// NotificationStore is the Notification Store surface the intake
// service needs.
type NotificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, subscriptionID uuid.UUID, key string) (*domain.Notification, error)
	Update(ctx context.Context, n *domain.Notification) error
	List(ctx context.Context, filter domain.NotificationFilter) (*domain.NotificationListResult, error)
}

// SubscriptionStore is the tenant/quota surface. GetByIDForUpdate must
// be called inside a transaction (see Transactor).
type SubscriptionStore interface {
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	Update(ctx context.Context, s *domain.Subscription) error
}

// LogAppender appends to the audit trail.
type LogAppender interface {
	Append(ctx context.Context, l *domain.NotificationLog) error
}

// TxStores are the repositories scoped to a single database transaction,
// so the quota check-and-increment and the notification insert commit or
// roll back together.
type TxStores struct {
	Subscriptions SubscriptionStore
	Notifications NotificationStore
	Logs          LogAppender
}

// Transactor opens a transaction and hands the intake service a set of
// repositories scoped to it; satisfied by the dbTransactor adapter in
// cmd/server/main.go, which wraps store.DB.Transact.
type Transactor interface {
	Transact(ctx context.Context, fn func(ctx context.Context, tx TxStores) error) error
}

// NotificationService is the Intake Service (C5).
type NotificationService struct {
	notifications NotificationStore
	subscriptions SubscriptionStore
	logs          LogAppender
	queue         domain.Queue
	tx            Transactor
	logger        *slog.Logger

	statusBroadcast func(*domain.Notification)
}

func NewNotificationService(
	notifications NotificationStore,
	subscriptions SubscriptionStore,
	logs LogAppender,
	queue domain.Queue,
	tx Transactor,
	logger *slog.Logger,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		subscriptions: subscriptions,
		logs:          logs,
		queue:         queue,
		tx:            tx,
		logger:        logger,
	}
}

func (s *NotificationService) SetStatusBroadcast(fn func(*domain.Notification)) {
	s.statusBroadcast = fn
}

// CreateRequest is a single intake request.
type CreateRequest struct {
	SubscriptionID uuid.UUID
	UserID         uuid.UUID
	Recipient      string
	Type           domain.NotificationType
	Subject        string
	Body           string
	Priority       domain.Priority
	ScheduledAt    *time.Time
	IdempotencyKey *string
	Metadata       string
	CorrelationID  string
}

// BatchCreateRequest wraps many CreateRequests. Per SPEC_FULL.md §5.5
// each entry is accepted or rejected independently — one bad entry
// never aborts the rest (this redesigns the teacher's all-or-nothing
// batch insert, see DESIGN.md).
type BatchCreateRequest struct {
	Entries []CreateRequest
}

// BatchResult is the per-entry outcome of CreateBatch.
type BatchResult struct {
	Notification *domain.Notification
	Err          error
}

func (s *NotificationService) validate(req CreateRequest) error {
	if !req.Type.IsValid() {
		return domain.NewValidationError("type", "invalid notification type")
	}
	if req.Recipient == "" || len(req.Recipient) > domain.MaxRecipientLen {
		return domain.NewValidationError("recipient", "recipient is required and must be under the length limit")
	}
	if len(req.Subject) > domain.MaxSubjectLen {
		return domain.NewValidationError("subject", "subject exceeds maximum length")
	}
	if req.Body == "" {
		return domain.NewValidationError("body", "body is required")
	}
	if err := domain.ValidateContent(req.Type, req.Body); err != nil {
		return err
	}
	if req.Priority != "" && !req.Priority.IsValid() {
		return domain.NewValidationError("priority", "invalid priority")
	}
	if req.ScheduledAt != nil && req.ScheduledAt.Before(time.Now()) {
		return domain.NewValidationError("scheduled_at", "scheduled time must be in the future")
	}
	return nil
}

// Create handles a single notification intake: idempotency check,
// quota check-and-increment (atomic against the subscription row), row
// insert, and enqueue when not scheduled.
func (s *NotificationService) Create(ctx context.Context, req CreateRequest) (*domain.Notification, error) {
	if req.IdempotencyKey != nil {
		existing, err := s.notifications.GetByIdempotencyKey(ctx, req.SubscriptionID, *req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("check idempotency: %w", err)
		}
	}

	if err := s.validate(req); err != nil {
		return nil, err
	}

	var created *domain.Notification
	err := s.tx.Transact(ctx, func(ctx context.Context, tx TxStores) error {
		sub, err := tx.Subscriptions.GetByIDForUpdate(ctx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if !sub.IsActive() {
			return domain.ErrSubscriptionInvalid
		}

		sub.RollWindows(time.Now())
		if !sub.HasQuota() {
			return domain.QuotaExceededError{
				SubscriptionID: sub.ID.String(),
				Limit:          sub.DailyLimit,
				Window:         "daily",
				RetryAfter:     time.Until(sub.DailyResetAt),
			}
		}
		sub.ConsumeQuota()
		if err := tx.Subscriptions.Update(ctx, sub); err != nil {
			return err
		}

		n := domain.NewNotification(req.UserID, req.SubscriptionID, req.Type, req.Recipient)
		n.Subject = req.Subject
		n.Body = req.Body
		n.Metadata = req.Metadata
		n.CorrelationID = req.CorrelationID
		n.IdempotencyKey = req.IdempotencyKey
		if req.Priority != "" {
			n.Priority = req.Priority
		}
		n.ScheduledAt = req.ScheduledAt

		if err := tx.Notifications.Create(ctx, n); err != nil {
			return err
		}
		if err := tx.Logs.Append(ctx, domain.NewNotificationLog(n.ID, n.Status, "accepted")); err != nil {
			return err
		}
		created = n
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrIdempotencyReplay) && req.IdempotencyKey != nil {
			return s.notifications.GetByIdempotencyKey(ctx, req.SubscriptionID, *req.IdempotencyKey)
		}
		return nil, err
	}

	if created.ScheduledAt == nil || !created.ScheduledAt.After(time.Now().Add(time.Second)) {
		if err := s.enqueue(ctx, created); err != nil {
			s.logger.Error("failed to enqueue notification", "notification_id", created.ID, "error", err)
		}
	}

	s.logger.Info("notification created", "notification_id", created.ID, "type", created.Type, "status", created.Status)
	return created, nil
}

// CreateBatch processes every entry independently: a validation or
// quota failure on entry N does not prevent entries N-1 or N+1 from
// succeeding.
func (s *NotificationService) CreateBatch(ctx context.Context, req BatchCreateRequest) ([]BatchResult, error) {
	if len(req.Entries) > maxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds maximum of %d", len(req.Entries), maxBatchSize)
	}

	results := make([]BatchResult, len(req.Entries))
	for i, entry := range req.Entries {
		n, err := s.Create(ctx, entry)
		results[i] = BatchResult{Notification: n, Err: err}
	}
	return results, nil
}

func (s *NotificationService) enqueue(ctx context.Context, n *domain.Notification) error {
	item := &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority, EnqueuedAt: time.Now().UnixNano()}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return err
	}
	now := time.Now().UTC()
	n.QueuedAt = &now
	return s.notifications.Update(ctx, n)
}

func (s *NotificationService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	return s.notifications.GetByID(ctx, id)
}

func (s *NotificationService) List(ctx context.Context, filter domain.NotificationFilter) (*domain.NotificationListResult, error) {
	return s.notifications.List(ctx, filter)
}

// Cancel cancels a Pending notification. Any other status is a no-op
// error (domain.ErrCannotCancel), matching the teacher's Cancel
// semantics generalized to the new state machine.
func (s *NotificationService) Cancel(ctx context.Context, id uuid.UUID) error {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !n.CanCancel() {
		return domain.ErrCannotCancel
	}
	if err := n.MarkCancelled(); err != nil {
		return err
	}
	if err := s.notifications.Update(ctx, n); err != nil {
		return fmt.Errorf("cancel notification: %w", err)
	}
	if s.logs != nil {
		_ = s.logs.Append(ctx, domain.NewNotificationLog(n.ID, n.Status, "cancelled"))
	}
	s.broadcast(n)
	s.logger.Info("notification cancelled", "notification_id", id)
	return nil
}

func (s *NotificationService) broadcast(n *domain.Notification) {
	if s.statusBroadcast != nil {
		s.statusBroadcast(n)
	}
}
