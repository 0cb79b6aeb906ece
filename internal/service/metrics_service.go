package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	registrationsCreated *prometheus.CounterVec
	enrollmentOutcomes   *prometheus.CounterVec
	intakeRateLimited    prometheus.Counter
	webhookDeliveries    *prometheus.CounterVec
	allocationFallbacks  prometheus.Counter
}

// NewMetricsService registers the core collectors.
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

	registrationsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrations_created_total",
		Help: "Registrations accepted through the intake endpoint",
	}, []string{"class"})

	enrollmentOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollments_total",
		Help: "Enrollment attempts by outcome",
	}, []string{"outcome"})

	intakeRateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "intake_rate_limited_total",
		Help: "Intake submissions rejected by rate limiting",
	})

	webhookDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Outbound webhook delivery attempts by result",
	}, []string{"result"})

	allocationFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "id_allocation_fallbacks_total",
		Help: "Identifier allocations that used the timestamp fallback form",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, registrationsCreated,
		enrollmentOutcomes, intakeRateLimited, webhookDeliveries, allocationFallbacks, goroutines)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		registrationsCreated: registrationsCreated,
		enrollmentOutcomes:   enrollmentOutcomes,
		intakeRateLimited:    intakeRateLimited,
		webhookDeliveries:    webhookDeliveries,
		allocationFallbacks:  allocationFallbacks,
	}
}

// Handler exposes the Prometheus scrape handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request timing and counts.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveRegistrationCreated counts an accepted registration for a class.
func (m *MetricsService) ObserveRegistrationCreated(className string) {
	if m == nil {
		return
	}
	m.registrationsCreated.WithLabelValues(className).Inc()
}

// ObserveEnrollment counts an enrollment attempt by outcome.
func (m *MetricsService) ObserveEnrollment(outcome string) {
	if m == nil {
		return
	}
	m.enrollmentOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveRateLimited counts a rejected intake submission.
func (m *MetricsService) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.intakeRateLimited.Inc()
}

// ObserveWebhookDelivery counts a webhook delivery attempt.
func (m *MetricsService) ObserveWebhookDelivery(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.webhookDeliveries.WithLabelValues(result).Inc()
}

// ObserveAllocationFallback counts an identifier allocated via the fallback form.
func (m *MetricsService) ObserveAllocationFallback() {
	if m == nil {
		return
	}
	m.allocationFallbacks.Inc()
}
