package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchctl/notifyd/internal/domain"
)

func TestPool_ConfirmMarksDeliveredWhenStillSent(t *testing.T) {
	n := domain.NewNotification(uuid.New(), uuid.New(), domain.TypeEmail, "a@example.com")
	require.NoError(t, n.MarkProcessing())
	require.NoError(t, n.MarkSent("ext-1"))

	adapter := fakeAdapter{typ: domain.TypeEmail}
	queue := newFakeQueue()
	pool, st, outbox, _ := testPool(t, adapter, queue)
	st.put(n)

	err := pool.Confirm(context.Background(), n.ID)
	require.NoError(t, err)

	got, err := st.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.Len(t, outbox.msgs, 1)
}

func TestPool_ConfirmSkipsNonSentNotification(t *testing.T) {
	n := domain.NewNotification(uuid.New(), uuid.New(), domain.TypeEmail, "a@example.com")
	adapter := fakeAdapter{typ: domain.TypeEmail}
	queue := newFakeQueue()
	pool, st, outbox, _ := testPool(t, adapter, queue)
	st.put(n)

	err := pool.Confirm(context.Background(), n.ID)
	require.NoError(t, err)

	got, err := st.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, outbox.msgs)
}

func TestPool_ConfirmIsIdempotentOnSecondCall(t *testing.T) {
	n := domain.NewNotification(uuid.New(), uuid.New(), domain.TypeEmail, "a@example.com")
	require.NoError(t, n.MarkProcessing())
	require.NoError(t, n.MarkSent("ext-1"))

	adapter := fakeAdapter{typ: domain.TypeEmail}
	queue := newFakeQueue()
	pool, st, outbox, _ := testPool(t, adapter, queue)
	st.put(n)

	require.NoError(t, pool.Confirm(context.Background(), n.ID))
	require.NoError(t, pool.Confirm(context.Background(), n.ID))

	assert.Len(t, outbox.msgs, 1)
}

func TestPool_ProcessSchedulesConfirmationOnSuccess(t *testing.T) {
	n := domain.NewNotification(uuid.New(), uuid.New(), domain.TypeEmail, "a@example.com")
	adapter := fakeAdapter{typ: domain.TypeEmail, result: domain.SendResult{Success: true, ExternalID: "ext-1"}}
	queue := newFakeQueue()
	pool, st, _, _ := testPool(t, adapter, queue)
	st.put(n)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cs := NewConfirmScheduler(pool, logger)
	pool.SetConfirmScheduler(cs)

	err := pool.process(context.Background(), &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go cs.Run(ctx)

	require.Eventually(t, func() bool {
		got, err := st.GetByID(context.Background(), n.ID)
		return err == nil && got.Status == domain.StatusDelivered
	}, 500*time.Millisecond, 10*time.Millisecond)
}

type recordingConfirmer struct {
	mu        sync.Mutex
	confirmed []uuid.UUID
}

func (c *recordingConfirmer) Confirm(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = append(c.confirmed, id)
	return nil
}

func (c *recordingConfirmer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.confirmed)
}

func TestConfirmScheduler_FiresAtDueTime(t *testing.T) {
	confirmer := &recordingConfirmer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewConfirmScheduler(confirmer, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go s.Run(ctx)

	id := uuid.New()
	s.Schedule(id, time.Now().Add(20*time.Millisecond))

	require.Eventually(t, func() bool {
		return confirmer.count() == 1
	}, 500*time.Millisecond, 10*time.Millisecond)
}

func TestConfirmScheduler_OrdersMultipleByFireTime(t *testing.T) {
	confirmer := &recordingConfirmer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewConfirmScheduler(confirmer, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)

	later := uuid.New()
	sooner := uuid.New()
	s.Schedule(later, time.Now().Add(150*time.Millisecond))
	s.Schedule(sooner, time.Now().Add(20*time.Millisecond))

	require.Eventually(t, func() bool {
		return confirmer.count() == 2
	}, time.Second, 10*time.Millisecond)

	confirmer.mu.Lock()
	defer confirmer.mu.Unlock()
	assert.Equal(t, sooner, confirmer.confirmed[0])
	assert.Equal(t, later, confirmer.confirmed[1])
}
