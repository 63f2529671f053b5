package domain

import (
	"context"

	"github.com/google/uuid"
)

// QueueItem is the routing snapshot the priority queue moves around. It
// deliberately carries no payload; a worker dequeuing one re-reads the
// full Notification from the Store before acting on it (see SPEC_FULL.md
// §5.2 and §5.6).
type QueueItem struct {
	NotificationID uuid.UUID
	Type           NotificationType
	Priority       Priority
	EnqueuedAt     int64 // unix nanos, for queue-wait observability only
}

// Queue is the in-memory, bounded, priority-ordered dispatch queue (C2).
// It is not durable: on crash, queued-but-unprocessed items are lost.
// The Scheduled Releaser's periodic scan only picks up scheduled Pending
// rows whose QueuedAt is still unset, so items that had been queued are
// not re-enqueued.
type Queue interface {
	// Enqueue places an item on the channel matching its priority class.
	// Returns ErrQueueFull if that class's bounded channel is saturated.
	Enqueue(ctx context.Context, item *QueueItem) error

	// Dequeue blocks until an item is available or ctx is cancelled,
	// always preferring higher-priority classes (strict priority per
	// SPEC_FULL.md §5.2; lower classes can starve under sustained load).
	Dequeue(ctx context.Context) (*QueueItem, error)

	// Depth reports the current length of a single queue class.
	Depth(class QueueClass) int

	// Depths reports the current length of every queue class.
	Depths() map[QueueClass]int
}
