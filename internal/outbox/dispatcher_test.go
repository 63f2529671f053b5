package outbox

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

type fakePending struct {
	mu   sync.Mutex
	msgs []*domain.OutboxMessage
}

func (f *fakePending) Pending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.OutboxMessage, 0)
	for _, m := range f.msgs {
		if m.DispatchedAt == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeMarker struct {
	mu         sync.Mutex
	dispatched []uuid.UUID
}

func (f *fakeMarker) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, id)
	return nil
}

func (f *fakeMarker) MarkAttemptFailed(ctx context.Context, m *domain.OutboxMessage) error {
	return nil
}

type fakeWebhooks struct {
	subs []*domain.WebhookSubscription
}

func (f *fakeWebhooks) ActiveFor(ctx context.Context, subscriptionID uuid.UUID) ([]*domain.WebhookSubscription, error) {
	return f.subs, nil
}

func TestDispatcher_PostsToSubscribedWebhook(t *testing.T) {
	var received int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received++
		mu.Unlock()
		assert.NotEmpty(t, r.Header.Get("X-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subID := uuid.New()
	sub := domain.NewWebhookSubscription(subID, srv.URL, "secret", []domain.WebhookEvent{domain.WebhookEventSent})
	msg := domain.NewOutboxMessage(uuid.New(), subID, domain.EventNotificationSent, `{"x":1}`)

	pending := &fakePending{msgs: []*domain.OutboxMessage{msg}}
	marker := &fakeMarker{}
	webhooks := &fakeWebhooks{subs: []*domain.WebhookSubscription{sub}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := NewDispatcher(pending, marker, webhooks, logger, config.OutboxConfig{
		PollInterval: time.Second, BatchSize: 10, HTTPTimeout: time.Second, MaxAttempts: 3,
	})

	d.pollOnce()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, received)
	require.Len(t, marker.dispatched, 1)
	assert.Equal(t, msg.ID, marker.dispatched[0])
}

func TestDispatcher_SkipsSubscriberNotWantingEvent(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subID := uuid.New()
	sub := domain.NewWebhookSubscription(subID, srv.URL, "secret", []domain.WebhookEvent{domain.WebhookEventFailed})
	msg := domain.NewOutboxMessage(uuid.New(), subID, domain.EventNotificationSent, `{"x":1}`)

	pending := &fakePending{msgs: []*domain.OutboxMessage{msg}}
	marker := &fakeMarker{}
	webhooks := &fakeWebhooks{subs: []*domain.WebhookSubscription{sub}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := NewDispatcher(pending, marker, webhooks, logger, config.OutboxConfig{
		PollInterval: time.Second, BatchSize: 10, HTTPTimeout: time.Second, MaxAttempts: 3,
	})

	d.pollOnce()

	assert.False(t, called)
	require.Len(t, marker.dispatched, 1)
}
