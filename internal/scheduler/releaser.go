package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

// DueFinder lists Pending rows whose ScheduledAt has elapsed and which
// have not yet been queued; satisfied by *store.NotificationRepository.
type DueFinder interface {
	DueForRelease(ctx context.Context, limit int) ([]*domain.Notification, error)
}

// QueueMarker flips QueuedAt so a future tick of the releaser doesn't
// re-enqueue the same row while a worker still has it in flight.
type QueueMarker interface {
	Update(ctx context.Context, n *domain.Notification) error
}

// Releaser is the Scheduled Releaser (C9): a cron-driven scan that
// promotes due scheduled notifications onto the priority queue. It uses
// robfig/cron rather than the teacher's hand-rolled ticker, matching the
// scheduling library several sibling notification services in the
// retrieval pack depend on.
type Releaser struct {
	finder DueFinder
	marker QueueMarker
	queue  domain.Queue
	logger *slog.Logger
	cfg    config.SchedulerConfig
	cron   *cron.Cron
}

func NewReleaser(finder DueFinder, marker QueueMarker, queue domain.Queue, logger *slog.Logger, cfg config.SchedulerConfig) *Releaser {
	return &Releaser{finder: finder, marker: marker, queue: queue, logger: logger, cfg: cfg}
}

func (r *Releaser) Start() error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.cfg.ReleaseCron, r.releaseOnce)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Releaser) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

func (r *Releaser) releaseOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	due, err := r.finder.DueForRelease(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("releaser: failed to list due notifications", "error", err)
		return
	}

	for _, n := range due {
		if err := r.release(ctx, n); err != nil {
			r.logger.Error("releaser: failed to release notification", "notification_id", n.ID, "error", err)
		}
	}

	if len(due) > 0 {
		r.logger.Info("releaser: released scheduled notifications", "count", len(due))
	}
}

func (r *Releaser) release(ctx context.Context, n *domain.Notification) error {
	now := time.Now().UTC()
	n.QueuedAt = &now
	if err := r.marker.Update(ctx, n); err != nil {
		return err
	}

	item := &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority}
	return r.queue.Enqueue(ctx, item)
}
