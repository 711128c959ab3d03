package webhook

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/pinboard/pkg/metrics"
)

// Defaults for the retry and cleanup sweeps.
const (
	DefaultRetention  = 90 * 24 * time.Hour
	DefaultRetryBatch = 50
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithProvider registers a provider under its Name. Later registrations win.
func WithProvider(p Provider) ServiceOption {
	return func(s *service) {
		if p != nil {
			s.providers[p.Name()] = p
		}
	}
}

// WithRetention bounds both the retry window and the age of events kept by Cleanup.
func WithRetention(d time.Duration) ServiceOption {
	return func(s *service) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithRetryBatch(n int) ServiceOption {
	return func(s *service) {
		if n > 0 {
			s.retryBatch = n
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *service) {
		s.metrics = m
	}
}
