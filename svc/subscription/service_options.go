package subscription

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/pinboard/pkg/metrics"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithClock replaces time.Now. Tests use it to pin activation and expiry times.
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

// WithMetrics counts transitions and pin changes. A nil collector is ignored.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *service) {
		s.metrics = m
	}
}
