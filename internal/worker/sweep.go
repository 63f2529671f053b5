package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/domain"
)

// StuckRowFinder finds Processing rows that have outlived a crash
// without completing; satisfied by *store.NotificationRepository.
type StuckRowFinder interface {
	StuckProcessing(ctx context.Context, olderThanSeconds int, limit int) ([]*domain.Notification, error)
}

// Sweeper is the crash-recovery backstop named in SPEC_FULL.md §7 and
// §9: a row stuck in Processing past StuckAfter did not finish its
// worker goroutine (process crash, deploy, panic) and is promoted back
// to Pending with an incremented retry count rather than left to rot.
type Sweeper struct {
	finder   StuckRowFinder
	store    NotificationStore
	logs     LogAppender
	queue    domain.Queue
	logger   *slog.Logger
	cfg      config.WorkerConfig
	cron     *cron.Cron
	schedule string
}

func NewSweeper(finder StuckRowFinder, store NotificationStore, logs LogAppender, queue domain.Queue, logger *slog.Logger, cfg config.WorkerConfig, schedule string) *Sweeper {
	return &Sweeper{
		finder:   finder,
		store:    store,
		logs:     logs,
		queue:    queue,
		logger:   logger,
		cfg:      cfg,
		schedule: schedule,
	}
}

func (s *Sweeper) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, s.sweepOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stuck, err := s.finder.StuckProcessing(ctx, int(s.cfg.StuckAfter.Seconds()), 100)
	if err != nil {
		s.logger.Error("sweep: failed to list stuck notifications", "error", err)
		return
	}

	for _, n := range stuck {
		if err := s.recover(ctx, n); err != nil {
			s.logger.Error("sweep: failed to recover notification", "notification_id", n.ID, "error", err)
		}
	}

	if len(stuck) > 0 {
		s.logger.Info("sweep: recovered stuck notifications", "count", len(stuck))
	}
}

func (s *Sweeper) recover(ctx context.Context, n *domain.Notification) error {
	// A Processing row can't go straight back to Pending through
	// TransitionTo (that edge doesn't exist deliberately — only a
	// completed Retrying cycle may); route it through Retrying first so
	// the log records why it moved.
	if err := n.MarkRetrying("internal: stuck in processing, recovered by sweep"); err != nil {
		return err
	}
	if err := n.ReleaseForRetry(); err != nil {
		return err
	}
	if err := s.store.Update(ctx, n); err != nil {
		return err
	}
	if s.logs != nil {
		l := domain.NewNotificationLog(n.ID, n.Status, "recovered by internal sweep")
		_ = s.logs.Append(ctx, l)
	}

	item := &domain.QueueItem{NotificationID: n.ID, Type: n.Type, Priority: n.Priority}
	return s.queue.Enqueue(ctx, item)
}
