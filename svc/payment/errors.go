package payment

import (
	"fmt"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
)

var (
	ErrPaymentNotFound = fmt.Errorf("%w: payment not found", apperr.ErrNotFound)
	ErrRefundNotFound  = fmt.Errorf("%w: refund not found", apperr.ErrNotFound)

	ErrInvalidAmount   = fmt.Errorf("%w: amount must be positive", apperr.ErrValidation)
	ErrInvalidCurrency = fmt.Errorf("%w: currency must be a 3-letter ISO code", apperr.ErrValidation)
	ErrInvalidMethod   = fmt.Errorf("%w: unknown payment method", apperr.ErrValidation)

	ErrNotRefundable       = fmt.Errorf("%w: payment cannot be refunded", apperr.ErrValidation)
	ErrRefundExceedsAmount = fmt.Errorf("%w: refund exceeds the refundable amount", apperr.ErrValidation)

	// ErrInvalidTransition is returned for status changes the lifecycle forbids,
	// e.g. a failed payment reported as succeeded.
	ErrInvalidTransition = fmt.Errorf("%w: status transition not allowed", apperr.ErrConflict)
)
