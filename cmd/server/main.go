package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dispatchctl/notifyd/internal/config"
	"github.com/dispatchctl/notifyd/internal/ingress"
	"github.com/dispatchctl/notifyd/internal/middleware"
	"github.com/dispatchctl/notifyd/internal/outbox"
	"github.com/dispatchctl/notifyd/internal/provider"
	"github.com/dispatchctl/notifyd/internal/queue"
	"github.com/dispatchctl/notifyd/internal/scheduler"
	"github.com/dispatchctl/notifyd/internal/service"
	"github.com/dispatchctl/notifyd/internal/store"
	"github.com/dispatchctl/notifyd/internal/worker"
)

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.App.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting notification dispatch service",
		"env", cfg.App.Env,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	notifications := store.NewNotificationRepository(db.Pool)
	subscriptions := store.NewSubscriptionRepository(db.Pool)
	logs := store.NewNotificationLogRepository(db.Pool)
	outboxRepo := store.NewOutboxRepository(db.Pool)
	webhooks := store.NewWebhookRepository(db.Pool)

	q := queue.New(cfg.Queue.HighCapacity, cfg.Queue.NormalCapacity, cfg.Queue.LowCapacity)

	registry := provider.NewRegistry(
		provider.NewEmailAdapter(cfg.Provider, cfg.Circuit, logger),
		provider.NewSmsAdapter(cfg.Provider, cfg.Circuit, logger),
	)

	tx := &dbTransactor{db: db}

	notificationService := service.NewNotificationService(notifications, subscriptions, logs, q, tx, logger)

	hub := ingress.NewStatusHub(logger)
	go hub.Run()
	notificationService.SetStatusBroadcast(hub.BroadcastStatus)

	requeuer := scheduler.NewRequeuer(notifications, q)
	retryScheduler := scheduler.NewRetryScheduler(requeuer, logger)
	go retryScheduler.Run(ctx)

	pool := worker.NewPool(notifications, logs, outboxRepo, q, registry, retryScheduler, logger, cfg.Worker, cfg.Retry)
	pool.SetStatusBroadcast(hub.BroadcastStatus)

	confirmScheduler := worker.NewConfirmScheduler(pool, logger)
	go confirmScheduler.Run(ctx)
	pool.SetConfirmScheduler(confirmScheduler)

	sweeper := worker.NewSweeper(notifications, notifications, logs, q, logger, cfg.Worker, cfg.Scheduler.SweepCron)

	releaser := scheduler.NewReleaser(notifications, notifications, q, logger, cfg.Scheduler)

	dispatcher := outbox.NewDispatcher(outboxRepo, outboxRepo, webhooks, logger, cfg.Outbox)

	notificationHandler := ingress.NewNotificationHandler(notificationService)
	healthHandler := ingress.NewHealthHandler()
	healthHandler.AddChecker("postgres", db)

	metrics := ingress.NewMetrics()
	metricsHandler := ingress.NewMetricsHandler(metrics, q)
	realtimeHandler := ingress.NewRealtimeHandler(hub)

	router := &ingress.Router{
		Notifications: notificationHandler,
		Health:        healthHandler,
		Metrics:       metricsHandler,
		Realtime:      realtimeHandler,
		Auth:          subscriptions,
		Logger:        logger,
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Build(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	pool.Start(ctx)

	if err := releaser.Start(); err != nil {
		logger.Error("failed to start scheduled releaser", "error", err)
		os.Exit(1)
	}
	if err := sweeper.Start(); err != nil {
		logger.Error("failed to start crash-recovery sweeper", "error", err)
		os.Exit(1)
	}
	if err := dispatcher.Start(); err != nil {
		logger.Error("failed to start outbox dispatcher", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	dispatcher.Stop()
	sweeper.Stop()
	releaser.Stop()
	pool.Stop()
	cancel()

	logger.Info("server stopped")
}

// dbTransactor adapts store.DB's pgx-backed Transact to the mockable
// shape service.Transactor needs, building the per-transaction
// repository set from the single Querier the transaction hands back.
// It lives here, not in internal/store, because the TxStores shape
// belongs to the service package's testing needs, not to storage.
type dbTransactor struct {
	db *store.DB
}

func (t *dbTransactor) Transact(ctx context.Context, fn func(ctx context.Context, tx service.TxStores) error) error {
	return t.db.Transact(ctx, func(ctx context.Context, q store.Querier) error {
		return fn(ctx, service.TxStores{
			Subscriptions: store.NewSubscriptionRepository(q),
			Notifications: store.NewNotificationRepository(q),
			Logs:          store.NewNotificationLogRepository(q),
		})
	})
}
