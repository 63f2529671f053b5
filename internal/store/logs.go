package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// NotificationLogRepository is the append-only audit trail for every
// status transition. Sequence is computed by the INSERT itself as the
// notification's current MAX(sequence)+1 (1 for the first row), not by
// the application; concurrent appends for the same notification are not
// serialized by this and can compute the same value.
type NotificationLogRepository struct {
	q Querier
}

func NewNotificationLogRepository(q Querier) *NotificationLogRepository {
	return &NotificationLogRepository{q: q}
}

func (r *NotificationLogRepository) Append(ctx context.Context, l *domain.NotificationLog) error {
	query := `
		INSERT INTO notification_logs (
			id, notification_id, sequence, status, message, details, provider_response, created_at
		) VALUES (
			$1, $2,
			COALESCE((SELECT MAX(sequence) + 1 FROM notification_logs WHERE notification_id = $2), 1),
			$3, $4, $5, $6, $7
		)
		RETURNING sequence
	`
	return r.q.QueryRow(ctx, query,
		l.ID, l.NotificationID, l.Status, l.Message, l.Details, l.ProviderResponse, l.CreatedAt,
	).Scan(&l.Sequence)
}

func (r *NotificationLogRepository) ListForNotification(ctx context.Context, notificationID uuid.UUID) ([]*domain.NotificationLog, error) {
	query := `
		SELECT id, notification_id, sequence, status, message, details, provider_response, created_at
		FROM notification_logs
		WHERE notification_id = $1
		ORDER BY sequence ASC
	`
	rows, err := r.q.Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("query notification logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*domain.NotificationLog, 0)
	for rows.Next() {
		l := &domain.NotificationLog{}
		if err := rows.Scan(&l.ID, &l.NotificationID, &l.Sequence, &l.Status, &l.Message, &l.Details, &l.ProviderResponse, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
