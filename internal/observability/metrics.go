package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	decisionsTotal  *prometheus.CounterVec
	evalDuration    prometheus.Histogram
	snapshotVersion prometheus.Gauge
	auditQueueDepth prometheus.Gauge
	auditAppends    prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_decisions_total",
		Help: "Authorization decisions by outcome and reason.",
	}, []string{"decision", "reason"})
	evalDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_evaluation_duration_seconds",
		Help:    "End-to-end authorization evaluation duration.",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})
	snapshotVersion := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_snapshot_version",
		Help: "Currently published snapshot version.",
	})
	auditQueue := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_audit_queue_depth",
		Help: "Entries waiting in the audit recorder queue.",
	})
	auditAppends := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_audit_appends_total",
		Help: "Audit entries appended.",
	})
	registry.MustRegister(requests, duration, decisions, evalDuration, snapshotVersion, auditQueue, auditAppends)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		decisionsTotal:  decisions,
		evalDuration:    evalDuration,
		snapshotVersion: snapshotVersion,
		auditQueueDepth: auditQueue,
		auditAppends:    auditAppends,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveDecision records one authorization decision.
func (m *Metrics) ObserveDecision(decision, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(decision, reason).Inc()
	m.evalDuration.Observe(elapsed.Seconds())
}

// SetSnapshotVersion records the latest published snapshot version.
func (m *Metrics) SetSnapshotVersion(version uint64) {
	if m == nil {
		return
	}
	m.snapshotVersion.Set(float64(version))
}

// SetAuditQueueDepth records the current audit queue occupancy.
func (m *Metrics) SetAuditQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.auditQueueDepth.Set(float64(depth))
}

// IncAuditAppends counts a successful audit append.
func (m *Metrics) IncAuditAppends() {
	if m == nil {
		return
	}
	m.auditAppends.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
