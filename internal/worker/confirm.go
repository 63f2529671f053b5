package worker

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// Confirmer performs delivery confirmation for a single notification.
// *Pool satisfies this so the default confirmation source is "re-read
// and assume delivered", but SPEC_FULL.md §5.6.2 calls for this to stay
// pluggable: a later webhook-ingress-driven confirmer can implement the
// same interface without touching ConfirmScheduler.
type Confirmer interface {
	Confirm(ctx context.Context, notificationID uuid.UUID) error
}

// Confirm re-reads the notification and, if it is still Sent, moves it
// to Delivered. The status recheck is what makes this idempotent: a
// notification that failed, or was already confirmed by an earlier
// firing, is simply skipped rather than erroring.
func (p *Pool) Confirm(ctx context.Context, notificationID uuid.UUID) error {
	n, err := p.store.GetByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if n.Status != domain.StatusSent {
		return nil
	}

	if err := n.MarkDelivered(); err != nil {
		return err
	}
	if err := p.store.Update(ctx, n); err != nil {
		return err
	}
	p.appendLog(ctx, n, "delivered")
	p.emitOutboxEvent(ctx, n, domain.EventNotificationDelivered)
	p.broadcast(n)
	p.logger.Info("notification delivered", "notification_id", n.ID)
	return nil
}

// confirmEntry is one pending confirmation check in the heap, ordered
// by fireAt. Same shape as scheduler.retryEntry; not shared across
// packages because the two schedulers drive different side effects
// against different interfaces.
type confirmEntry struct {
	id     uuid.UUID
	fireAt time.Time
	index  int
}

type confirmHeap []*confirmEntry

func (h confirmHeap) Len() int            { return len(h) }
func (h confirmHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h confirmHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *confirmHeap) Push(x any) {
	e := x.(*confirmEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *confirmHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// ConfirmScheduler is the in-process min-heap scheduler for delivery
// confirmation, grounded on scheduler.RetryScheduler (C7): same
// not-durable reasoning applies. A confirmation check lost to a restart
// leaves the notification at Sent; the stuck-row sweep only scans
// Processing rows, so nothing re-schedules it.
type ConfirmScheduler struct {
	mu        sync.Mutex
	heap      confirmHeap
	wake      chan struct{}
	confirmer Confirmer
	logger    *slog.Logger
}

func NewConfirmScheduler(confirmer Confirmer, logger *slog.Logger) *ConfirmScheduler {
	return &ConfirmScheduler{
		heap:      make(confirmHeap, 0),
		wake:      make(chan struct{}, 1),
		confirmer: confirmer,
		logger:    logger,
	}
}

// Schedule queues a confirmation check for id at the given time.
// Implements ConfirmationScheduler.
func (s *ConfirmScheduler) Schedule(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	heap.Push(&s.heap, &confirmEntry{id: id, fireAt: at})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is cancelled.
func (s *ConfirmScheduler) Run(ctx context.Context) {
	for {
		delay := s.nextDelay()

		var timer *time.Timer
		if delay != nil {
			timer = time.NewTimer(*delay)
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-confirmTimerC(timer):
			s.fireDue(ctx)
		}
	}
}

func confirmTimerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (s *ConfirmScheduler) nextDelay() *time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap) == 0 {
		return nil
	}
	d := time.Until(s.heap[0].fireAt)
	if d < 0 {
		d = 0
	}
	return &d
}

func (s *ConfirmScheduler) fireDue(ctx context.Context) {
	now := time.Now()
	var due []uuid.UUID

	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].fireAt.After(now) {
		e := heap.Pop(&s.heap).(*confirmEntry)
		due = append(due, e.id)
	}
	s.mu.Unlock()

	for _, id := range due {
		if err := s.confirmer.Confirm(ctx, id); err != nil {
			s.logger.Error("confirm scheduler: failed to confirm notification", "notification_id", id, "error", err)
		}
	}
}
