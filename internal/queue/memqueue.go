// Package queue implements the in-memory priority-fair dispatch queue
// (C2): three bounded channels, one per domain.QueueClass, with strict
// priority on dequeue. Sustained higher-priority traffic can starve the
// low class.
package queue

import (
	"context"
	"time"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// MemQueue is not durable. A crash loses whatever is in flight, and
// nothing replays it: the Scheduled Releaser's periodic scan (C9) only
// picks up scheduled Pending rows that were never queued, so an
// immediate notification that was sitting in the queue stays Pending.
type MemQueue struct {
	high   chan *domain.QueueItem
	normal chan *domain.QueueItem
	low    chan *domain.QueueItem
}

func New(highCap, normalCap, lowCap int) *MemQueue {
	return &MemQueue{
		high:   make(chan *domain.QueueItem, highCap),
		normal: make(chan *domain.QueueItem, normalCap),
		low:    make(chan *domain.QueueItem, lowCap),
	}
}

func (q *MemQueue) channelFor(class domain.QueueClass) chan *domain.QueueItem {
	switch class {
	case domain.QueueClassHigh:
		return q.high
	case domain.QueueClassLow:
		return q.low
	default:
		return q.normal
	}
}

func (q *MemQueue) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	ch := q.channelFor(item.Priority.Class())
	select {
	case ch <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue always drains high before normal before low. There is no
// fairness steal: under sustained high-priority load, low-priority work
// waits.
func (q *MemQueue) Dequeue(ctx context.Context) (*domain.QueueItem, error) {
	if item, ok := tryRecv(q.high); ok {
		return item, nil
	}
	if item, ok := tryRecv(q.normal); ok {
		return item, nil
	}
	if item, ok := tryRecv(q.low); ok {
		return item, nil
	}

	// Nothing ready; block on whichever fires first, re-checking
	// priority order once something does since a higher-priority item
	// may have landed while we were setting up the select.
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case item := <-q.high:
			return item, nil
		case item := <-q.normal:
			select {
			case hi := <-q.high:
				// put the normal item back; it lost the race
				select {
				case q.normal <- item:
				default:
				}
				return hi, nil
			default:
				return item, nil
			}
		case item := <-q.low:
			select {
			case hi := <-q.high:
				select {
				case q.low <- item:
				default:
				}
				return hi, nil
			default:
				return item, nil
			}
		case <-time.After(50 * time.Millisecond):
			// loop back around to re-poll priority order
		}
	}
}

func tryRecv(ch chan *domain.QueueItem) (*domain.QueueItem, bool) {
	select {
	case item := <-ch:
		return item, true
	default:
		return nil, false
	}
}

func (q *MemQueue) Depth(class domain.QueueClass) int {
	return len(q.channelFor(class))
}

func (q *MemQueue) Depths() map[domain.QueueClass]int {
	return map[domain.QueueClass]int{
		domain.QueueClassHigh:   len(q.high),
		domain.QueueClassNormal: len(q.normal),
		domain.QueueClassLow:    len(q.low),
	}
}

var _ domain.Queue = (*MemQueue)(nil)
