package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/gateway"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "humidity_sync"

// Metrics Prometheus collectors of the sync service. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	refreshes       *prometheus.CounterVec
	staleDiscarded  *prometheus.CounterVec
	anomalies       prometheus.Counter
	channelState    prometheus.Gauge
	pushEvents      *prometheus.CounterVec
	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Snapshot refreshes by snapshot and outcome.",
		}, []string{"snapshot", "outcome"}),
		staleDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_discarded_total",
			Help:      "Refresh results discarded because a newer refresh was initiated.",
		}, []string{"snapshot"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referential_anomalies_total",
			Help:      "Records or push events referencing an unknown sensor.",
		}),
		channelState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_state",
			Help:      "Push channel state (0 disconnected, 1 connecting, 2 connected).",
		}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Push events received by kind.",
		}, []string{"kind"}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Backend requests by method and result.",
		}, []string{"method", "result"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Backend request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "View API requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "View API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.refreshes,
		m.staleDiscarded,
		m.anomalies,
		m.channelState,
		m.pushEvents,
		m.gatewayRequests,
		m.gatewayDuration,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry underlying registry (tests)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposition handler for /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Refresh counts a finished snapshot pull; outcome is applied, failed or stale
func (m *Metrics) Refresh(snapshot, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(snapshot, outcome).Inc()
	if outcome == "stale" {
		m.staleDiscarded.WithLabelValues(snapshot).Inc()
	}
}

func (m *Metrics) Anomaly() {
	if m == nil {
		return
	}
	m.anomalies.Inc()
}

// AddAnomalies adds n anomalies found in a snapshot
func (m *Metrics) AddAnomalies(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.anomalies.Add(float64(n))
}

func (m *Metrics) PushEvent(kind realtime.EventKind) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(kind.String()).Inc()
}

// ChannelState is a realtime state observer
func (m *Metrics) ChannelState(s realtime.ConnectionState) {
	if m == nil {
		return
	}
	m.channelState.Set(float64(s))
}

// GatewayCall is a gateway observer
func (m *Metrics) GatewayCall(method string, status int, kind gateway.Kind, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := strconv.Itoa(status)
	if kind != 0 {
		result = kind.String()
	}
	m.gatewayRequests.WithLabelValues(method, result).Inc()
	m.gatewayDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records count and latency of next under route
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
