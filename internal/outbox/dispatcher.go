// Package outbox implements the Outbox Dispatcher (C8): a poller over
// the transactional outbox table that fans each domain event out to
// every webhook subscriber registered for it, signing the payload and
// guaranteeing per-aggregate delivery order.
package outbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

type PendingLister interface {
	Pending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)
}

type DispatchMarker interface {
	MarkDispatched(ctx context.Context, id uuid.UUID) error
	MarkAttemptFailed(ctx context.Context, m *domain.OutboxMessage) error
}

type WebhookLister interface {
	ActiveFor(ctx context.Context, subscriptionID uuid.UUID) ([]*domain.WebhookSubscription, error)
}

// Dispatcher is the outbox poller (C8).
type Dispatcher struct {
	pending  PendingLister
	marker   DispatchMarker
	webhooks WebhookLister
	client   *http.Client
	logger   *slog.Logger
	cfg      config.OutboxConfig
	cron     *cron.Cron
}

func NewDispatcher(pending PendingLister, marker DispatchMarker, webhooks WebhookLister, logger *slog.Logger, cfg config.OutboxConfig) *Dispatcher {
	return &Dispatcher{
		pending:  pending,
		marker:   marker,
		webhooks: webhooks,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger:   logger,
		cfg:      cfg,
	}
}

func (d *Dispatcher) Start() error {
	d.cron = cron.New()
	schedule := fmt.Sprintf("@every %s", d.cfg.PollInterval)
	_, err := d.cron.AddFunc(schedule, d.pollOnce)
	if err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

func (d *Dispatcher) Stop() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
}

func (d *Dispatcher) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	messages, err := d.pending.Pending(ctx, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("outbox: failed to list pending messages", "error", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	// Group by aggregate so each notification's events dispatch in the
	// order they were written, while independent aggregates fan out
	// concurrently (SPEC_FULL.md §5.8's per-aggregate ordering rule).
	lanes := make(map[uuid.UUID][]*domain.OutboxMessage)
	for _, m := range messages {
		lanes[m.AggregateID] = append(lanes[m.AggregateID], m)
	}

	var wg sync.WaitGroup
	for _, lane := range lanes {
		wg.Add(1)
		go func(lane []*domain.OutboxMessage) {
			defer wg.Done()
			for _, m := range lane {
				if err := d.dispatchOne(ctx, m); err != nil {
					d.logger.Error("outbox: dispatch failed, will retry on next poll", "message_id", m.ID, "error", err)
					// Stop this lane; a later event for the same
					// aggregate must not jump ahead of a failed one.
					return
				}
			}
		}(lane)
	}
	wg.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, m *domain.OutboxMessage) error {
	subs, err := d.webhooks.ActiveFor(ctx, m.SubscriptionID)
	if err != nil {
		return fmt.Errorf("list webhook subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Wants(m.EventType) {
			continue
		}
		if err := d.post(ctx, sub, m); err != nil {
			m.MarkAttemptFailed(err.Error())
			_ = d.marker.MarkAttemptFailed(ctx, m)
			if m.Attempts >= d.cfg.MaxAttempts {
				d.logger.Error("outbox: giving up on message after max attempts", "message_id", m.ID, "url", sub.URL)
				break
			}
			return err
		}
	}

	return d.marker.MarkDispatched(ctx, m.ID)
}

func (d *Dispatcher) post(ctx context.Context, sub *domain.WebhookSubscription, m *domain.OutboxMessage) error {
	body := []byte(m.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(m.EventType))
	req.Header.Set("X-Signature", "sha256="+sign(sub.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook subscriber returned status %d", resp.StatusCode)
	}
	return nil
}
