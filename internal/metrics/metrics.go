// Package metrics: счётчики Prometheus бота. Реестр свой, не глобальный.
// Все методы безопасны для nil *Metrics: компоненты в тестах работают без метрик.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medrelay"

type Metrics struct {
	registry *prometheus.Registry

	relayTotal       *prometheus.CounterVec
	albumTotal       *prometheus.CounterVec
	transportErrors  *prometheus.CounterVec
	retentionDeleted *prometheus.CounterVec
	newsTotal        *prometheus.CounterVec
	thanksTotal      prometheus.Counter
	moderationTotal  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Relay events by direction (inbound, reply, edit) and status.",
		}, []string{"direction", "status"}),
		albumTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "album_events_total",
			Help:      "Album aggregator outcomes per event.",
		}, []string{"outcome"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Telegram API errors by operation and class.",
		}, []string{"op", "class"}),
		retentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Rows removed by the retention sweep.",
		}, []string{"kind"}),
		newsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news_posts_total",
			Help:      "Channel posts by outcome (copied, duplicate, failed).",
		}, []string{"outcome"}),
		thanksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thanks_total",
			Help:      "Counted thanks replies.",
		}),
		moderationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_actions_total",
			Help:      "Moderation actions by kind.",
		}, []string{"action"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.relayTotal,
		m.albumTotal,
		m.transportErrors,
		m.retentionDeleted,
		m.newsTotal,
		m.thanksTotal,
		m.moderationTotal,
	)
	return m
}

// Handler отдаёт метрики для /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRelay(direction, status string) {
	if m == nil {
		return
	}
	m.relayTotal.WithLabelValues(direction, status).Inc()
}

func (m *Metrics) ObserveAlbum(outcome string) {
	if m == nil {
		return
	}
	m.albumTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransportError(op string, permanent bool) {
	if m == nil {
		return
	}
	class := "transient"
	if permanent {
		class = "permanent"
	}
	m.transportErrors.WithLabelValues(op, class).Inc()
}

func (m *Metrics) ObserveRetention(kind string, deleted int64) {
	if m == nil || deleted <= 0 {
		return
	}
	m.retentionDeleted.WithLabelValues(kind).Add(float64(deleted))
}

func (m *Metrics) ObserveNews(outcome string) {
	if m == nil {
		return
	}
	m.newsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveThanks() {
	if m == nil {
		return
	}
	m.thanksTotal.Inc()
}

func (m *Metrics) ObserveModeration(action string) {
	if m == nil {
		return
	}
	m.moderationTotal.WithLabelValues(action).Inc()
}
