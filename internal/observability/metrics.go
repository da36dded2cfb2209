// Package observability owns the Prometheus registry and the application's
// domain metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	stockAdjustments *prometheus.CounterVec
	issuesPerformed  prometheus.Counter
	poTransitions    *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "partsflow_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "partsflow_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	stockAdjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "partsflow_stock_adjustments_total",
		Help: "Stock ledger adjustments by direction.",
	}, []string{"direction"})
	issuesPerformed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "partsflow_issues_performed_total",
		Help: "Parts issues that deducted stock.",
	})
	poTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "partsflow_po_status_transitions_total",
		Help: "Purchase order status transitions.",
	}, []string{"to"})
	registry.MustRegister(requests, duration, stockAdjustments, issuesPerformed, poTransitions)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		stockAdjustments: stockAdjustments,
		issuesPerformed:  issuesPerformed,
		poTransitions:    poTransitions,
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

// ObserveStockAdjustment counts one ledger write.
func (m *Metrics) ObserveStockAdjustment(delta int64) {
	if m == nil {
		return
	}
	direction := "in"
	if delta < 0 {
		direction = "out"
	}
	m.stockAdjustments.WithLabelValues(direction).Inc()
}

// ObserveIssuePerformed counts one stock-affecting issue.
func (m *Metrics) ObserveIssuePerformed() {
	if m == nil {
		return
	}
	m.issuesPerformed.Inc()
}

// ObservePOTransition counts a purchase order entering a status.
func (m *Metrics) ObservePOTransition(to string) {
	if m == nil {
		return
	}
	m.poTransitions.WithLabelValues(to).Inc()
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
