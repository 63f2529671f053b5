package ingress

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// Metrics holds the Prometheus collectors the dispatch pipeline feeds.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	notificationsSent   *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
	queueDepth          *prometheus.GaugeVec
	processingLatency   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds", Buckets: prometheus.DefBuckets},
			[]string{"method", "path"},
		),
		notificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "notifications_sent_total", Help: "Total number of notifications sent successfully"},
			[]string{"type"},
		),
		notificationsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "notifications_failed_total", Help: "Total number of failed notifications"},
			[]string{"type", "reason"},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "notification_queue_depth", Help: "Current depth of the priority queue"},
			[]string{"class"},
		),
		processingLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "notification_processing_latency_seconds", Help: "Time from creation to successful send", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}},
			[]string{"type"},
		),
	}
}

func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordNotificationSent(typ string) {
	m.notificationsSent.WithLabelValues(typ).Inc()
}

func (m *Metrics) RecordNotificationFailed(typ, reason string) {
	m.notificationsFailed.WithLabelValues(typ, reason).Inc()
}

func (m *Metrics) SetQueueDepth(class string, depth float64) {
	m.queueDepth.WithLabelValues(class).Set(depth)
}

func (m *Metrics) RecordProcessingLatency(typ string, latency time.Duration) {
	m.processingLatency.WithLabelValues(typ).Observe(latency.Seconds())
}

type MetricsHandler struct {
	metrics *Metrics
	queue   domain.Queue
}

func NewMetricsHandler(metrics *Metrics, queue domain.Queue) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, queue: queue}
}

func (h *MetricsHandler) Handler() http.Handler {
	return promhttp.Handler()
}

type QueueMetrics struct {
	High   QueueClassMetrics `json:"high"`
	Normal QueueClassMetrics `json:"normal"`
	Low    QueueClassMetrics `json:"low"`
}

type QueueClassMetrics struct {
	Depth int `json:"depth"`
}

// RealtimeMetrics reports the current priority queue depths and mirrors
// them into the Prometheus gauge on every scrape-adjacent read.
func (h *MetricsHandler) RealtimeMetrics(w http.ResponseWriter, r *http.Request) {
	depths := h.queue.Depths()
	for class, depth := range depths {
		h.metrics.SetQueueDepth(string(class), float64(depth))
	}

	JSON(w, http.StatusOK, QueueMetrics{
		High:   QueueClassMetrics{Depth: depths[domain.QueueClassHigh]},
		Normal: QueueClassMetrics{Depth: depths[domain.QueueClassNormal]},
		Low:    QueueClassMetrics{Depth: depths[domain.QueueClassLow]},
	})
}
