package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/doctordirect/consult-relay/internal/core"
)

const namespace = "ddrelay"

// RelayMetrics exposes gauges, counters and histograms for the room relay.
// It implements core.Observer.
type RelayMetrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	events      *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobLatency  *prometheus.HistogramVec
	evictions   prometheus.Counter
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Registered relay connections",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Consultation rooms with at least one member",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "events_total",
			Help:      "Events queued to connections",
		}, []string{"kind"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "persistence_jobs_total",
			Help:      "Persistence jobs by kind and outcome",
		}, []string{"kind", "outcome"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "persistence_latency_seconds",
			Help:      "Latency of persistence jobs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "evictions_total",
			Help:      "Connections evicted because their event buffer was full",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.connections, m.rooms, m.events, m.jobs, m.jobLatency, m.evictions)
	return m
}

func (m *RelayMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *RelayMetrics) ConnectionClosed(evicted bool) {
	if m == nil {
		return
	}
	m.connections.Dec()
	if evicted {
		m.evictions.Inc()
	}
}

func (m *RelayMetrics) RoomsChanged(active int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(active))
}

func (m *RelayMetrics) EventEmitted(kind core.EventKind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind.String()).Inc()
}

func (m *RelayMetrics) JobFinished(kind string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.jobs.WithLabelValues(kind, outcome).Inc()
	m.jobLatency.WithLabelValues(kind).Observe(took.Seconds())
}

// HTTPMetrics counts HTTP requests served by the transport.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(took.Seconds())
}

var _ core.Observer = (*RelayMetrics)(nil)
