package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pinboard/pkg/metrics"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.WebhookEvent("paddle", "processed")
	m.WebhookEvent("paddle", "duplicate")
	m.WebhookEvent("paddle", "duplicate")
	m.PaymentTransition("pending", "succeeded")
	m.SubscriptionTransition("pending", "active")
	m.PinChange("pinned")
	m.Refund("succeeded")
	m.JobRun("cleanup", 20*time.Millisecond, nil)
	m.JobRun("cleanup", time.Millisecond, errors.New("boom"))

	count, err := testutil.GatherAndCount(reg, "pinboard_webhook_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pinboard_webhook_events_total{outcome="duplicate",provider="paddle"} 2`)
	assert.Contains(t, body, `pinboard_job_runs_total{job="cleanup",result="error"} 1`)
	assert.Contains(t, body, `pinboard_subscription_transitions_total{from="pending",to="active"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.WebhookEvent("paddle", "processed")
		m.PaymentTransition("a", "b")
		m.SubscriptionTransition("a", "b")
		m.PinChange("pinned")
		m.Refund("pending")
		m.JobRun("x", time.Second, nil)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
