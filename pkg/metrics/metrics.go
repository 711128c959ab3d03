// Package metrics exposes Prometheus collectors for the billing core.
//
// All methods are safe on a nil *Metrics so services can run without a
// registry in tests and tools.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pinboard"

type Metrics struct {
	registry *prometheus.Registry

	webhookEvents           *prometheus.CounterVec
	paymentTransitions      *prometheus.CounterVec
	subscriptionTransitions *prometheus.CounterVec
	pinChanges              *prometheus.CounterVec
	refunds                 *prometheus.CounterVec
	jobRuns                 *prometheus.CounterVec
	jobDuration             *prometheus.HistogramVec
}

// New registers the collectors on registry. A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		paymentTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Payment status changes.",
		}, []string{"from", "to"}),
		subscriptionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_transitions_total",
			Help:      "Subscription status changes.",
		}, []string{"from", "to"}),
		pinChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pinned_post_changes_total",
			Help:      "Pinned post creations and removals.",
		}, []string{"action"}),
		refunds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refunds by resulting status.",
		}, []string{"status"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Periodic job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Periodic job run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"job"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WebhookEvent counts one delivery. Outcome is processed, failed, ignored, duplicate or rejected.
func (m *Metrics) WebhookEvent(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) PaymentTransition(from, to string) {
	if m == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SubscriptionTransition(from, to string) {
	if m == nil {
		return
	}
	m.subscriptionTransitions.WithLabelValues(from, to).Inc()
}

// PinChange counts pinned post creation ("pinned") or removal ("unpinned").
func (m *Metrics) PinChange(action string) {
	if m == nil {
		return
	}
	m.pinChanges.WithLabelValues(action).Inc()
}

func (m *Metrics) Refund(status string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(status).Inc()
}

// JobRun matches scheduler.Observer.
func (m *Metrics) JobRun(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
