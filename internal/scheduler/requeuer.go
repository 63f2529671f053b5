package scheduler

import (
	"context"

	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// NotificationUpdater is the minimal store surface Requeuer needs.
type NotificationUpdater interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	Update(ctx context.Context, n *domain.Notification) error
}

// Requeuer implements ReleaseRequeuer for the RetryScheduler: it moves a
// Retrying notification back to Pending and pushes it onto the queue.
// This is the Retrying -> Pending edge fired by a due backoff timer
// rather than by an operator action.
type Requeuer struct {
	store NotificationUpdater
	queue domain.Queue
}

func NewRequeuer(store NotificationUpdater, queue domain.Queue) *Requeuer {
	return &Requeuer{store: store, queue: queue}
}

func (r *Requeuer) ReleaseAndEnqueue(ctx context.Context, id uuid.UUID) error {
	n, err := r.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n.Status != domain.StatusRetrying {
		// Already moved on (e.g. cancelled); nothing to do.
		return nil
	}
	if err := n.ReleaseForRetry(); err != nil {
		return err
	}
	if err := r.store.Update(ctx, n); err != nil {
		return err
	}

	item := &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority}
	return r.queue.Enqueue(ctx, item)
}
