// Package scheduler implements the Retry Scheduler (C7) and the
// Scheduled Releaser (C9).
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// retryEntry is one pending wakeup in the heap, ordered by fireAt.
type retryEntry struct {
	id     uuid.UUID
	fireAt time.Time
	index  int
}

type retryHeap []*retryEntry

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *retryHeap) Push(x any) {
	e := x.(*retryEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// ReleaseRequeuer is the notification-level side effect a due retry
// triggers: move the row from Retrying to Pending and push it back onto
// the priority queue.
type ReleaseRequeuer interface {
	ReleaseAndEnqueue(ctx context.Context, id uuid.UUID) error
}

// RetryScheduler is the in-process min-heap scheduler (C7). It is not
// durable: a retry it was holding at a restart is lost and the row stays
// Retrying. Neither the Scheduled Releaser's scan (scheduled Pending rows
// never queued) nor the worker pool's stuck-row sweep (Processing rows)
// picks up Retrying rows. container/heap is the standard library because no example
// in the corpus provides a one-shot arbitrary-deadline timer queue; a
// sorted-set based one (Redis ZSET) was dropped along with go-redis
// (see DESIGN.md).
type RetryScheduler struct {
	mu     sync.Mutex
	heap   retryHeap
	wake   chan struct{}
	logger *slog.Logger
	req    ReleaseRequeuer
}

func NewRetryScheduler(req ReleaseRequeuer, logger *slog.Logger) *RetryScheduler {
	return &RetryScheduler{
		heap:   make(retryHeap, 0),
		wake:   make(chan struct{}, 1),
		logger: logger,
		req:    req,
	}
}

// ScheduleRelease queues a wakeup for id at the given time. Implements
// worker.RetryScheduler.
func (s *RetryScheduler) ScheduleRelease(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	heap.Push(&s.heap, &retryEntry{id: id, fireAt: at})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is cancelled. It sleeps until the
// next due entry (or forever if the heap is empty), waking early
// whenever ScheduleRelease adds something that might fire sooner.
func (s *RetryScheduler) Run(ctx context.Context) {
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
		case <-timerC(timer):
			s.fireDue(ctx)
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// nextDelay returns how long until the earliest entry is due, or nil if
// the heap is empty (in which case Run blocks until woken).
func (s *RetryScheduler) nextDelay() *time.Duration {
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

func (s *RetryScheduler) fireDue(ctx context.Context) {
	now := time.Now()
	var due []uuid.UUID

	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].fireAt.After(now) {
		e := heap.Pop(&s.heap).(*retryEntry)
		due = append(due, e.id)
	}
	s.mu.Unlock()

	for _, id := range due {
		if err := s.req.ReleaseAndEnqueue(ctx, id); err != nil {
			s.logger.Error("retry scheduler: failed to release notification", "notification_id", id, "error", err)
		}
	}
}
