package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// OutboxRepository persists the outbox (C8). Insert runs on whatever
// Querier the repository was built with; the worker pool uses a
// pool-backed repository, so its inserts are separate statements issued
// after the notification row is updated, not part of that update's
// transaction.
type OutboxRepository struct {
	q Querier
}

func NewOutboxRepository(q Querier) *OutboxRepository {
	return &OutboxRepository{q: q}
}

func (r *OutboxRepository) Insert(ctx context.Context, m *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			id, aggregate_id, subscription_id, event_type, payload, created_at, dispatched_at, attempts, last_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err := r.q.Exec(ctx, query, m.ID, m.AggregateID, m.SubscriptionID, m.EventType, m.Payload, m.CreatedAt, m.DispatchedAt, m.Attempts, m.LastError)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// Pending returns the oldest undispatched messages in creation order
// (FIFO by created_at), so each aggregate's events also come back in
// creation order (the per-aggregate ordering guarantee from SPEC_FULL.md
// §5.8).
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	query := `
		SELECT id, aggregate_id, subscription_id, event_type, payload, created_at, dispatched_at, attempts, last_error
		FROM outbox_messages
		WHERE dispatched_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox messages: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.OutboxMessage, 0)
	for rows.Next() {
		m := &domain.OutboxMessage{}
		if err := rows.Scan(&m.ID, &m.AggregateID, &m.SubscriptionID, &m.EventType, &m.Payload, &m.CreatedAt, &m.DispatchedAt, &m.Attempts, &m.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `UPDATE outbox_messages SET dispatched_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox message dispatched: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkAttemptFailed(ctx context.Context, m *domain.OutboxMessage) error {
	_, err := r.q.Exec(ctx, `UPDATE outbox_messages SET attempts = $2, last_error = $3 WHERE id = $1`, m.ID, m.Attempts, m.LastError)
	if err != nil {
		return fmt.Errorf("mark outbox attempt failed: %w", err)
	}
	return nil
}
