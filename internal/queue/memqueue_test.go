package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchctl/notifyd/internal/domain"
)

func item(priority domain.Priority) *domain.QueueItem {
	return &domain.QueueItem{NotificationID: uuid.New(), Type: domain.TypeEmail, Priority: priority}
}

func TestMemQueue_HighPriorityDequeuedFirst(t *testing.T) {
	q := New(10, 10, 10)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, item(domain.PriorityLow)))
	require.NoError(t, q.Enqueue(ctx, item(domain.PriorityNormal)))
	require.NoError(t, q.Enqueue(ctx, item(domain.PriorityCritical)))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueClassHigh, got.Priority.Class())
}

func TestMemQueue_EnqueueFullReturnsErrQueueFull(t *testing.T) {
	q := New(1, 1, 1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, item(domain.PriorityHigh)))
	err := q.Enqueue(ctx, item(domain.PriorityHigh))
	assert.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestMemQueue_DepthsReflectsEachClass(t *testing.T) {
	q := New(10, 10, 10)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, item(domain.PriorityHigh)))
	require.NoError(t, q.Enqueue(ctx, item(domain.PriorityLow)))
	require.NoError(t, q.Enqueue(ctx, item(domain.PriorityLow)))

	depths := q.Depths()
	assert.Equal(t, 1, depths[domain.QueueClassHigh])
	assert.Equal(t, 0, depths[domain.QueueClassNormal])
	assert.Equal(t, 2, depths[domain.QueueClassLow])
}

func TestMemQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(10, 10, 10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(context.Background(), item(domain.PriorityNormal))
	}()

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueClassNormal, got.Priority.Class())
}

func TestMemQueue_DequeueRespectsContextCancellation(t *testing.T) {
	q := New(10, 10, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
