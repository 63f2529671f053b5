// Package worker implements the Worker Pool (C6): a single, semaphore
// bounded pool of goroutines that dequeue routing snapshots, re-read the
// full notification, drive it through the provider adapter, and apply
// the state machine in domain.Notification. Unlike the teacher's
// per-channel goroutine counts, there is one concurrency ceiling shared
// by every notification type (SPEC_FULL.md §5.6).
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

// NotificationStore is the subset of the Notification Store the pool
// needs; satisfied by *store.NotificationRepository.
type NotificationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	Update(ctx context.Context, n *domain.Notification) error
}

// LogAppender is the subset of the log repository the pool needs.
type LogAppender interface {
	Append(ctx context.Context, l *domain.NotificationLog) error
}

// ProviderRegistry resolves a notification type to its adapter.
type ProviderRegistry interface {
	For(t domain.NotificationType) (domain.Adapter, error)
}

// RetryScheduler is implemented by internal/scheduler.RetryScheduler
// (C7). Deferring here instead of importing that package avoids an
// import cycle and keeps the pool's retry trigger swappable in tests.
type RetryScheduler interface {
	ScheduleRelease(id uuid.UUID, at time.Time)
}

// OutboxWriter records a domain event after a status update, as a
// separate write outside that update's transaction; satisfied by
// *store.OutboxRepository.
type OutboxWriter interface {
	Insert(ctx context.Context, m *domain.OutboxMessage) error
}

// ConfirmationScheduler hands off a delayed delivery-confirmation check;
// implemented by *ConfirmScheduler (internal/worker/confirm.go). Kept as
// an interface, same reasoning as RetryScheduler, so the confirmation
// source stays pluggable per SPEC_FULL.md §5.6.2.
type ConfirmationScheduler interface {
	Schedule(id uuid.UUID, at time.Time)
}

// Pool is the worker pool (C6).
type Pool struct {
	store     NotificationStore
	logs      LogAppender
	outbox    OutboxWriter
	queue     domain.Queue
	providers ProviderRegistry
	retry     RetryScheduler
	logger    *slog.Logger
	retryCfg  config.RetryConfig

	sem             *semaphore.Weighted
	statusBroadcast func(*domain.Notification)
	confirm         ConfirmationScheduler
	confirmDelay    time.Duration

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewPool(
	store NotificationStore,
	logs LogAppender,
	outbox OutboxWriter,
	queue domain.Queue,
	providers ProviderRegistry,
	retry RetryScheduler,
	logger *slog.Logger,
	workerCfg config.WorkerConfig,
	retryCfg config.RetryConfig,
) *Pool {
	return &Pool{
		store:        store,
		logs:         logs,
		outbox:       outbox,
		queue:        queue,
		providers:    providers,
		retry:        retry,
		logger:       logger,
		retryCfg:     retryCfg,
		confirmDelay: workerCfg.ConfirmDelay,
		sem:          semaphore.NewWeighted(int64(workerCfg.Concurrency)),
	}
}

func (p *Pool) SetStatusBroadcast(fn func(*domain.Notification)) {
	p.statusBroadcast = fn
}

// SetConfirmScheduler wires the delivery-confirmation scheduler. Left
// optional (nil-checked in process) so existing tests that don't care
// about confirmation can keep using a bare NewPool.
func (p *Pool) SetConfirmScheduler(cs ConfirmationScheduler) {
	p.confirm = cs
}

// Start runs a dispatch loop that acquires a semaphore slot, dequeues
// one item, and processes it on its own goroutine. Dequeue blocking
// (not spinning per-goroutine) is what keeps idle load near zero.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.dispatchLoop(ctx)

	p.logger.Info("worker pool started")
}

func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		p.logger.Warn("worker pool stop timed out")
	}
}

func (p *Pool) dispatchLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}

		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.sem.Release(1)
			return
		}

		p.wg.Add(1)
		go func(item *domain.QueueItem) {
			defer p.wg.Done()
			defer p.sem.Release(1)

			pctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if err := p.process(pctx, item); err != nil {
				p.logger.Error("failed to process notification", "notification_id", item.NotificationID, "error", err)
			}
		}(item)
	}
}

func (p *Pool) process(ctx context.Context, item *domain.QueueItem) error {
	logger := p.logger.With("notification_id", item.NotificationID)

	n, err := p.store.GetByID(ctx, item.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("notification not found, dropping")
			return nil
		}
		return err
	}

	// Another worker, the releaser, or a cancellation may have already
	// moved this past Pending; re-checking here is what makes a
	// duplicate dequeue harmless.
	if n.Status != domain.StatusPending {
		return nil
	}

	if err := n.MarkProcessing(); err != nil {
		return err
	}
	if err := p.store.Update(ctx, n); err != nil {
		return err
	}
	p.appendLog(ctx, n, "moved to processing")
	p.broadcast(n)

	adapter, err := p.providers.For(n.Type)
	if err != nil {
		return p.fail(ctx, n, err.Error())
	}

	result, sendErr := adapter.Send(ctx, domain.SendRequest{
		NotificationID: n.ID.String(),
		Type:           n.Type,
		Recipient:      n.Recipient,
		Subject:        n.Subject,
		Body:           n.Body,
		CorrelationID:  n.CorrelationID,
	})

	if sendErr != nil {
		return p.handleFailure(ctx, n, sendErr, logger)
	}
	if !result.Success {
		if result.Permanent {
			return p.fail(ctx, n, result.Message)
		}
		return p.retryOrFail(ctx, n, result.Message, logger)
	}

	if err := n.MarkSent(result.ExternalID); err != nil {
		return err
	}
	if err := p.store.Update(ctx, n); err != nil {
		return err
	}
	p.appendLog(ctx, n, "sent")
	p.emitOutboxEvent(ctx, n, domain.EventNotificationSent)
	p.broadcast(n)

	if p.confirm != nil {
		p.confirm.Schedule(n.ID, time.Now().Add(p.confirmDelay))
	}

	logger.Info("notification sent", "external_id", result.ExternalID)
	return nil
}

func (p *Pool) handleFailure(ctx context.Context, n *domain.Notification, sendErr error, logger *slog.Logger) error {
	var provErr domain.ProviderError
	if errors.As(sendErr, &provErr) && provErr.Kind == domain.ProviderPermanent {
		return p.fail(ctx, n, provErr.Message)
	}
	return p.retryOrFail(ctx, n, sendErr.Error(), logger)
}

// retryOrFail is the heart of the retry policy redesign (SPEC_FULL.md
// §8): instead of blocking a worker goroutine for the whole backoff
// delay, it marks the notification Retrying and hands the wakeup to the
// Retry Scheduler, freeing the worker slot immediately.
func (p *Pool) retryOrFail(ctx context.Context, n *domain.Notification, reason string, logger *slog.Logger) error {
	// Gated on the notification's own MaxRetries, not the pool-wide
	// config default: retry_count <= max_retries is a per-notification
	// invariant (spec.md §3, §8), and a row can carry a MaxRetries that
	// differs from the default.
	if n.RetryCount >= n.MaxRetries {
		return p.fail(ctx, n, "max retries exceeded: "+reason)
	}

	if err := n.MarkRetrying(reason); err != nil {
		return err
	}
	if err := p.store.Update(ctx, n); err != nil {
		return err
	}
	p.appendLog(ctx, n, "retrying: "+reason)
	p.broadcast(n)

	delay := backoffDelay(p.retryCfg, n.RetryCount)
	logger.Warn("notification scheduled for retry", "retry_count", n.RetryCount, "delay", delay, "reason", reason)
	p.retry.ScheduleRelease(n.ID, time.Now().Add(delay))
	return nil
}

func (p *Pool) fail(ctx context.Context, n *domain.Notification, reason string) error {
	if err := n.MarkFailed(reason); err != nil {
		return err
	}
	if err := p.store.Update(ctx, n); err != nil {
		return err
	}
	p.appendLog(ctx, n, "failed: "+reason)
	p.emitOutboxEvent(ctx, n, domain.EventNotificationFailed)
	p.broadcast(n)
	return nil
}

func (p *Pool) appendLog(ctx context.Context, n *domain.Notification, message string) {
	if p.logs == nil {
		return
	}
	l := domain.NewNotificationLog(n.ID, n.Status, message)
	if err := p.logs.Append(ctx, l); err != nil {
		p.logger.Error("failed to append notification log", "notification_id", n.ID, "error", err)
	}
}

func (p *Pool) emitOutboxEvent(ctx context.Context, n *domain.Notification, eventType domain.OutboxMessageType) {
	if p.outbox == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"notification_id": n.ID.String(),
		"status":          string(n.Status),
	})
	if err != nil {
		p.logger.Error("failed to marshal outbox payload", "notification_id", n.ID, "error", err)
		return
	}
	msg := domain.NewOutboxMessage(n.ID, n.SubscriptionID, eventType, string(payload))
	if err := p.outbox.Insert(ctx, msg); err != nil {
		p.logger.Error("failed to write outbox message", "notification_id", n.ID, "error", err)
	}
}

func (p *Pool) broadcast(n *domain.Notification) {
	if p.statusBroadcast != nil {
		p.statusBroadcast(n)
	}
}

// backoffDelay computes delay = min(BaseDelay * 2^retryCount, MaxDelay),
// exactly spec.md §4.6.3: base=5s, doubling per attempt, capped at 15
// minutes. retryCount is the post-increment count (MarkRetrying already
// ran), so the first retry is BaseDelay*2^1, matching scenario 3's
// "retry delays >= 10s, 20s".
func backoffDelay(cfg config.RetryConfig, retryCount int) time.Duration {
	delay := cfg.BaseDelay * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
