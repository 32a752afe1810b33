// Package metrics provides prometheus collectors for the session server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snapdls"

// Metrics holds the server collectors. A nil *Metrics records nothing, so
// components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive      prometheus.Gauge
	sessionsStarted     prometheus.Counter
	sessionsEnded       *prometheus.CounterVec
	warmupDuration      *prometheus.HistogramVec
	interactionDuration *prometheus.HistogramVec
	requestsTotal       *prometheus.CounterVec
}

// New registers every collector on a fresh registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of client sessions currently held in the store",
		}),
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions handed to clients",
		}),
		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of client sessions released",
		}, []string{"reason"}), // reason: client, idle, shutdown
		warmupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "warmup_duration_seconds",
			Help:      "Time spent constructing a segmentation session",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		interactionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interaction_duration_seconds",
			Help:      "Time spent applying an interaction, excluding transport",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SessionStarted records a hand-off to a client.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.sessionsActive.Inc()
}

// SessionsEnded records n released client sessions.
func (m *Metrics) SessionsEnded(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Add(float64(n))
	m.sessionsActive.Sub(float64(n))
}

// ObserveWarmup records one session construction.
func (m *Metrics) ObserveWarmup(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.warmupDuration.WithLabelValues(status(err)).Observe(d.Seconds())
}

// ObserveInteraction records the engine time of one interaction.
func (m *Metrics) ObserveInteraction(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.interactionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRequest counts one HTTP response.
func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
