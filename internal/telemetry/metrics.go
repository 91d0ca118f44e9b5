package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CarrierErrors   *prometheus.CounterVec
	WebhookOutcomes *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipflow_requests_total",
				Help: "Total number of requests by operation, carrier, and status",
			},
			[]string{"operation", "carrier", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shipflow_request_duration_seconds",
				Help:    "Request duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipflow_carrier_errors_total",
				Help: "Total carrier errors by carrier and error code",
			},
			[]string{"carrier", "error_type"},
		),
		WebhookOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipflow_webhook_outcomes_total",
				Help: "Per-integration webhook outcomes by provider",
			},
			[]string{"provider", "outcome"},
		),
		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shipflow_events_dropped_total",
				Help: "Domain events dropped because the dispatch queue was full",
			},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipflow_events_published_total",
				Help: "Domain events handed to the publisher by type and result",
			},
			[]string{"type", "result"},
		),
	}
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(operation, carrier, status string, duration float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, carrier, status).Inc()
	m.RequestDuration.WithLabelValues(operation, carrier).Observe(duration)
}

// RecordError records a carrier error metric.
func (m *Metrics) RecordError(carrier, errorType string) {
	if m == nil {
		return
	}
	m.CarrierErrors.WithLabelValues(carrier, errorType).Inc()
}

// RecordWebhook records the outcome of one integration's webhook processing.
func (m *Metrics) RecordWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.WebhookOutcomes.WithLabelValues(provider, outcome).Inc()
}

// RecordEventDropped counts an event lost to back-pressure.
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// RecordEventPublished counts a publish attempt.
func (m *Metrics) RecordEventPublished(eventType string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(eventType, result).Inc()
}
