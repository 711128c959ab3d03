package checkout

import (
	"log/slog"
	"strings"

	"github.com/dmitrymomot/pinboard/svc/payment"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithGateway opens a hosted payment page for every checkout. The gateway's
// method overrides WithMethod.
func WithGateway(g Gateway) ServiceOption {
	return func(s *service) {
		s.gateway = g
	}
}

// WithMethod sets the payment method recorded when no gateway is configured.
func WithMethod(m payment.Method) ServiceOption {
	return func(s *service) {
		if m != "" {
			s.method = m
		}
	}
}

func WithCurrency(code string) ServiceOption {
	return func(s *service) {
		if code = strings.TrimSpace(code); code != "" {
			s.currency = strings.ToUpper(code)
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
