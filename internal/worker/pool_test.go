package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[uuid.UUID]*domain.Notification
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[uuid.UUID]*domain.Notification)}
}

func (s *fakeStore) put(n *domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[n.ID] = n
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *fakeStore) Update(ctx context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[n.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *n
	s.data[n.ID] = &cp
	return nil
}

type fakeLogs struct{}

func (fakeLogs) Append(ctx context.Context, l *domain.NotificationLog) error { return nil }

type fakeOutbox struct {
	mu   sync.Mutex
	msgs []*domain.OutboxMessage
}

func (o *fakeOutbox) Insert(ctx context.Context, m *domain.OutboxMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return nil
}

type fakeAdapter struct {
	typ    domain.NotificationType
	result domain.SendResult
	err    error
}

func (a fakeAdapter) Name() string                            { return "fake" }
func (a fakeAdapter) Supports(t domain.NotificationType) bool { return a.typ == t }
func (a fakeAdapter) Healthy() bool                           { return true }
func (a fakeAdapter) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	return a.result, a.err
}

type fakeRegistry struct {
	adapter domain.Adapter
}

func (r fakeRegistry) For(t domain.NotificationType) (domain.Adapter, error) {
	if r.adapter.Supports(t) {
		return r.adapter, nil
	}
	return nil, domain.ErrNoProviderForType
}

type fakeRetryScheduler struct {
	mu        sync.Mutex
	scheduled []uuid.UUID
}

func (f *fakeRetryScheduler) ScheduleRelease(id uuid.UUID, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, id)
}

func testPool(t *testing.T, adapter domain.Adapter, queue domain.Queue) (*Pool, *fakeStore, *fakeOutbox, *fakeRetryScheduler) {
	t.Helper()
	st := newFakeStore()
	outbox := &fakeOutbox{}
	retry := &fakeRetryScheduler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pool := NewPool(st, fakeLogs{}, outbox, queue, fakeRegistry{adapter: adapter}, retry, logger,
		config.WorkerConfig{Concurrency: 4},
		config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second},
	)
	return pool, st, outbox, retry
}

type fakeQueue struct {
	items chan *domain.QueueItem
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{items: make(chan *domain.QueueItem, 10)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	select {
	case q.items <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*domain.QueueItem, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) Depth(class domain.QueueClass) int   { return len(q.items) }
func (q *fakeQueue) Depths() map[domain.QueueClass]int   { return nil }

func TestPool_ProcessMarksSentOnSuccess(t *testing.T) {
	n := domain.NewNotification(uuid.New(), uuid.New(), domain.TypeEmail, "a@example.com")
	adapter := fakeAdapter{typ: domain.TypeEmail, result: domain.SendResult{Success: true, ExternalID: "ext-1"}}
	queue := newFakeQueue()
	pool, st, outbox, _ := testPool(t, adapter, queue)
	st.put(n)

	err := pool.process(context.Background(), &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority})
	require.NoError(t, err)

	got, err := st.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.Len(t, outbox.msgs, 1)
}

func TestPool_ProcessSchedulesRetryOnTransientFailure(t *testing.T) {
	n := domain.NewNotification(uuid.New(), uuid.New(), domain.TypeEmail, "a@example.com")
	adapter := fakeAdapter{typ: domain.TypeEmail, err: errors.New("network blip")}
	queue := newFakeQueue()
	pool, st, _, retry := testPool(t, adapter, queue)
	st.put(n)

	err := pool.process(context.Background(), &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority})
	require.NoError(t, err)

	got, err := st.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Len(t, retry.scheduled, 1)
}

func TestPool_ProcessFailsPermanentlyOnPermanentResult(t *testing.T) {
	n := domain.NewNotification(uuid.New(), uuid.New(), domain.TypeEmail, "a@example.com")
	adapter := fakeAdapter{typ: domain.TypeEmail, result: domain.SendResult{Success: false, Permanent: true, Message: "bad recipient"}}
	queue := newFakeQueue()
	pool, st, outbox, retry := testPool(t, adapter, queue)
	st.put(n)

	err := pool.process(context.Background(), &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority})
	require.NoError(t, err)

	got, err := st.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Empty(t, retry.scheduled)
	assert.Len(t, outbox.msgs, 1)
}

func TestPool_ProcessSkipsAlreadyNonPendingNotification(t *testing.T) {
	n := domain.NewNotification(uuid.New(), uuid.New(), domain.TypeEmail, "a@example.com")
	n.Status = domain.StatusCancelled
	adapter := fakeAdapter{typ: domain.TypeEmail, result: domain.SendResult{Success: true}}
	queue := newFakeQueue()
	pool, st, _, _ := testPool(t, adapter, queue)
	st.put(n)

	err := pool.process(context.Background(), &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority})
	require.NoError(t, err)

	got, err := st.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestPool_ProcessFailsAfterMaxRetries(t *testing.T) {
	n := domain.NewNotification(uuid.New(), uuid.New(), domain.TypeEmail, "a@example.com")
	n.RetryCount = 3
	n.MaxRetries = 3
	adapter := fakeAdapter{typ: domain.TypeEmail, err: errors.New("still down")}
	queue := newFakeQueue()
	pool, st, _, retry := testPool(t, adapter, queue)
	st.put(n)

	err := pool.process(context.Background(), &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority})
	require.NoError(t, err)

	got, err := st.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Empty(t, retry.scheduled)
}
