package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routing outcomes recorded per GetConnection call.
const (
	RoutingOutcomeConnected      = "connected"
	RoutingOutcomeNoServers      = "no_active_servers"
	RoutingOutcomeNoMatch        = "no_matching_version"
	RoutingOutcomeExhausted      = "connection_exhausted"
	RoutingOutcomeNotInitialized = "not_initialized"
)

// MetricsService encapsulates Prometheus instrumentation for the router.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	routingTotal    *prometheus.CounterVec
	connectFailures prometheus.Counter
	shiftSteps      *prometheus.CounterVec
	deployOps       *prometheus.CounterVec
	cachedConns     prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	routingTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_decisions_total",
		Help: "Routing resolutions by outcome",
	}, []string{"outcome"})

	connectFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connection_failures_total",
		Help: "Failed backend connection attempts",
	})

	shiftSteps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_shift_steps_total",
		Help: "Executed traffic shift steps per service",
	}, []string{"service"})

	deployOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deployment_operations_total",
		Help: "Deployment lifecycle operations by kind",
	}, []string{"operation"})

	cachedConns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cached_connections",
		Help: "Number of entries in the connection cache",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, routingTotal, connectFailures, shiftSteps, deployOps, cachedConns, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		routingTotal:    routingTotal,
		connectFailures: connectFailures,
		shiftSteps:      shiftSteps,
		deployOps:       deployOps,
		cachedConns:     cachedConns,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics for the admin surface.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordRoutingDecision counts one GetConnection resolution.
func (m *MetricsService) RecordRoutingDecision(outcome string) {
	if m == nil {
		return
	}
	m.routingTotal.WithLabelValues(outcome).Inc()
}

// RecordConnectFailure counts one failed backend connection attempt streak.
func (m *MetricsService) RecordConnectFailure() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

// RecordShiftStep counts one executed traffic shift step.
func (m *MetricsService) RecordShiftStep(service string) {
	if m == nil {
		return
	}
	m.shiftSteps.WithLabelValues(service).Inc()
}

// RecordDeploymentOperation counts one lifecycle operation.
func (m *MetricsService) RecordDeploymentOperation(operation string) {
	if m == nil {
		return
	}
	m.deployOps.WithLabelValues(operation).Inc()
}

// SetCachedConnections updates the connection cache size gauge.
func (m *MetricsService) SetCachedConnections(n int) {
	if m == nil {
		return
	}
	m.cachedConns.Set(float64(n))
}
