package ingress

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dispatchctl/notifyd/internal/middleware"
)

// Router wires every HTTP-facing component into a single chi.Router.
type Router struct {
	Notifications *NotificationHandler
	Health        *HealthHandler
	Metrics       *MetricsHandler
	Realtime      *RealtimeHandler
	Auth          middleware.SubscriptionLookup
	Logger        *slog.Logger
}

func (rt *Router) Build() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Correlation)
	r.Use(middleware.Recovery(rt.Logger))
	r.Use(middleware.Logging(rt.Logger))
	r.Use(chimiddleware.Compress(5))

	r.Get("/health", rt.Health.Health)
	r.Get("/health/live", rt.Health.Liveness)
	r.Get("/health/ready", rt.Health.Readiness)

	r.Handle("/metrics", rt.Metrics.Handler())
	r.Get("/metrics/realtime", rt.Metrics.RealtimeMetrics)

	r.Get("/ws", rt.Realtime.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(rt.Auth))
		r.Route("/notifications", func(r chi.Router) {
			rt.Notifications.RegisterRoutes(r)
		})
	})

	return r
}
