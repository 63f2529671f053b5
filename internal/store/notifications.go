package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// NotificationRepository is the Notification Store (C1). It is built
// against Querier so the same repository works whether q is the bare
// pool (read-only snapshot queries) or a transaction handed in by
// Transact (the write path that also appends a NotificationLog row).
type NotificationRepository struct {
	q Querier
}

func NewNotificationRepository(q Querier) *NotificationRepository {
	return &NotificationRepository{q: q}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, subscription_id, type, status, priority, recipient,
			subject, body, metadata, correlation_id, idempotency_key,
			retry_count, max_retries, created_at, updated_at, scheduled_at,
			queued_at, sent_at, delivered_at, last_error, external_id, is_deleted
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
		)
	`
	_, err := r.q.Exec(ctx, query,
		n.ID, n.UserID, n.SubscriptionID, n.Type, n.Status, n.Priority, n.Recipient,
		n.Subject, n.Body, n.Metadata, n.CorrelationID, n.IdempotencyKey,
		n.RetryCount, n.MaxRetries, n.CreatedAt, n.UpdatedAt, n.ScheduledAt,
		n.QueuedAt, n.SentAt, n.DeliveredAt, n.LastError, n.ExternalID, n.IsDeleted,
	)
	if err != nil {
		if isUniqueViolation(err, "notifications_idempotency_key_key") {
			return domain.ErrIdempotencyReplay
		}
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := selectNotificationColumns() + ` FROM notifications WHERE id = $1 AND is_deleted = false`
	return r.scanOne(ctx, query, id)
}

func (r *NotificationRepository) GetByIdempotencyKey(ctx context.Context, subscriptionID uuid.UUID, key string) (*domain.Notification, error) {
	query := selectNotificationColumns() + ` FROM notifications WHERE subscription_id = $1 AND idempotency_key = $2 AND is_deleted = false`
	return r.scanOne(ctx, query, subscriptionID, key)
}

// Update persists every mutable field. Callers pass the whole entity
// rather than a partial patch, mirroring the teacher's repository shape.
func (r *NotificationRepository) Update(ctx context.Context, n *domain.Notification) error {
	query := `
		UPDATE notifications SET
			status = $2, priority = $3, retry_count = $4, updated_at = $5,
			queued_at = $6, sent_at = $7, delivered_at = $8, last_error = $9,
			external_id = $10
		WHERE id = $1 AND is_deleted = false
	`
	tag, err := r.q.Exec(ctx, query,
		n.ID, n.Status, n.Priority, n.RetryCount, n.UpdatedAt,
		n.QueuedAt, n.SentAt, n.DeliveredAt, n.LastError, n.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `UPDATE notifications SET is_deleted = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soft delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) List(ctx context.Context, filter domain.NotificationFilter) (*domain.NotificationListResult, error) {
	conditions := []string{"is_deleted = false"}
	args := []any{}
	argIndex := 1

	if filter.SubscriptionID != nil {
		conditions = append(conditions, fmt.Sprintf("subscription_id = $%d", argIndex))
		args = append(args, *filter.SubscriptionID)
		argIndex++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, *filter.Type)
		argIndex++
	}

	where := conditions[0]
	for _, c := range conditions[1:] {
		where += " AND " + c
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM notifications WHERE %s", where)
	if err := r.q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf("%s FROM notifications WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		selectNotificationColumns(), where, argIndex, argIndex+1)
	args = append(args, pageSize, offset)

	notifications, err := r.scanMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &domain.NotificationListResult{
		Notifications: notifications,
		Total:         total,
		Page:          page,
		PageSize:      pageSize,
	}, nil
}

// DueForRelease returns Pending notifications whose ScheduledAt has
// passed and that have not yet been queued, for the Scheduled Releaser
// (C9). QueuedAt is the release guard: it prevents the releaser's next
// tick from re-enqueuing a row a worker hasn't picked up yet.
func (r *NotificationRepository) DueForRelease(ctx context.Context, limit int) ([]*domain.Notification, error) {
	query := selectNotificationColumns() + `
		FROM notifications
		WHERE is_deleted = false AND status = $1 AND scheduled_at IS NOT NULL
		  AND scheduled_at <= now() AND queued_at IS NULL
		ORDER BY scheduled_at ASC
		LIMIT $2
	`
	return r.scanMany(ctx, query, domain.StatusPending, limit)
}

// StuckProcessing returns rows that have sat in Processing for longer
// than olderThan, a crash-recovery backstop for the Internal error sweep
// (SPEC_FULL.md §7).
func (r *NotificationRepository) StuckProcessing(ctx context.Context, olderThanSeconds int, limit int) ([]*domain.Notification, error) {
	query := selectNotificationColumns() + `
		FROM notifications
		WHERE is_deleted = false AND status = $1
		  AND updated_at <= now() - ($2 || ' seconds')::interval
		ORDER BY updated_at ASC
		LIMIT $3
	`
	return r.scanMany(ctx, query, domain.StatusProcessing, olderThanSeconds, limit)
}

func selectNotificationColumns() string {
	return `SELECT id, user_id, subscription_id, type, status, priority, recipient,
		subject, body, metadata, correlation_id, idempotency_key,
		retry_count, max_retries, created_at, updated_at, scheduled_at,
		queued_at, sent_at, delivered_at, last_error, external_id, is_deleted`
}

func (r *NotificationRepository) scanOne(ctx context.Context, query string, args ...any) (*domain.Notification, error) {
	row := r.q.QueryRow(ctx, query, args...)
	n, err := scanNotificationRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) scanMany(ctx context.Context, query string, args ...any) ([]*domain.Notification, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotificationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// rowScanner covers both pgx.Row and pgx.Rows for a single Scan call.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotificationRow(row rowScanner) (*domain.Notification, error) {
	n := &domain.Notification{}
	err := row.Scan(
		&n.ID, &n.UserID, &n.SubscriptionID, &n.Type, &n.Status, &n.Priority, &n.Recipient,
		&n.Subject, &n.Body, &n.Metadata, &n.CorrelationID, &n.IdempotencyKey,
		&n.RetryCount, &n.MaxRetries, &n.CreatedAt, &n.UpdatedAt, &n.ScheduledAt,
		&n.QueuedAt, &n.SentAt, &n.DeliveredAt, &n.LastError, &n.ExternalID, &n.IsDeleted,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}
