package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/univops/registrar-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the registration engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	promotions      prometheus.Counter
	swaps           *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
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

	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrations_total",
		Help: "Total registration attempts that produced an enrollment, by resulting status",
	}, []string{"status"})

	promotions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Total waitlisted enrollments promoted into a freed seat",
	})

	swaps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_swaps_total",
		Help: "Total completed swaps, by destination outcome",
	}, []string{"outcome"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, registrations, promotions, swaps, dbQueryDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		registrations:   registrations,
		promotions:      promotions,
		swaps:           swaps,
		dbQueryDuration: dbQueryDuration,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordRegistration counts a registration that produced an enrollment.
func (m *MetricsService) RecordRegistration(status models.EnrollmentStatus) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(string(status)).Inc()
}

// RecordPromotion counts a waitlist promotion.
func (m *MetricsService) RecordPromotion() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

// RecordSwap counts a completed swap by destination outcome.
func (m *MetricsService) RecordSwap(waitlisted bool) {
	if m == nil {
		return
	}
	outcome := "enrolled"
	if waitlisted {
		outcome = "waitlisted"
	}
	m.swaps.WithLabelValues(outcome).Inc()
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}
