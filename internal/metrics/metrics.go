package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-watchlist/internal/event"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry    *prometheus.Registry
	authEvents  *prometheus.CounterVec
	reuse       prometheus.Counter
	httpLatency *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchlist",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Authentication events by type.",
		}, []string{"type"}),
		reuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "watchlist",
			Subsystem: "auth",
			Name:      "refresh_reuse_total",
			Help:      "Refresh tokens presented after rotation.",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "watchlist",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	registry.MustRegister(m.authEvents, m.reuse, m.httpLatency)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(method string, route string, status string, seconds float64) {
	m.httpLatency.WithLabelValues(method, route, status).Observe(seconds)
}

func (m *Metrics) Record(e event.Event) {
	m.authEvents.WithLabelValues(string(e.Type)).Inc()
	if e.Type == event.TypeReuseDetected {
		m.reuse.Inc()
	}
}

// Consume records events until ctx is done or the channel closes.
func (m *Metrics) Consume(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.Record(e)
		}
	}
}
