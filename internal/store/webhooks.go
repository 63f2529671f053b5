package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// WebhookRepository backs per-subscription webhook registrations that
// the outbox dispatcher (C8) fans events out to.
type WebhookRepository struct {
	q Querier
}

func NewWebhookRepository(q Querier) *WebhookRepository {
	return &WebhookRepository{q: q}
}

func (r *WebhookRepository) Create(ctx context.Context, w *domain.WebhookSubscription) error {
	events := make([]string, len(w.Events))
	for i, e := range w.Events {
		events[i] = string(e)
	}
	query := `
		INSERT INTO webhook_subscriptions (id, subscription_id, url, secret, events, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err := r.q.Exec(ctx, query, w.ID, w.SubscriptionID, w.URL, w.Secret, events, w.Active, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create webhook subscription: %w", err)
	}
	return nil
}

// ActiveFor returns every active webhook registered against a
// subscription, for the dispatcher to filter by Wants.
func (r *WebhookRepository) ActiveFor(ctx context.Context, subscriptionID uuid.UUID) ([]*domain.WebhookSubscription, error) {
	query := `
		SELECT id, subscription_id, url, secret, events, active, created_at, updated_at
		FROM webhook_subscriptions
		WHERE subscription_id = $1 AND active = true
	`
	rows, err := r.q.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("query webhook subscriptions: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.WebhookSubscription, 0)
	for rows.Next() {
		w := &domain.WebhookSubscription{}
		var events []string
		if err := rows.Scan(&w.ID, &w.SubscriptionID, &w.URL, &w.Secret, &events, &w.Active, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook subscription: %w", err)
		}
		w.Events = make([]domain.WebhookEvent, len(events))
		for i, e := range events {
			w.Events[i] = domain.WebhookEvent(e)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
