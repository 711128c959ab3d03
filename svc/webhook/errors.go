package webhook

import (
	"fmt"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
)

var (
	ErrUnknownProvider  = fmt.Errorf("%w: unknown webhook provider", apperr.ErrNotFound)
	ErrInvalidSignature = fmt.Errorf("%w: webhook signature verification failed", apperr.ErrPermission)
	ErrMalformedPayload = fmt.Errorf("%w: malformed webhook payload", apperr.ErrValidation)
	ErrDuplicateEvent   = fmt.Errorf("%w: webhook event already received", apperr.ErrConflict)
	ErrEventNotFound    = fmt.Errorf("%w: webhook event not found", apperr.ErrNotFound)
	ErrMissingSecret    = fmt.Errorf("%w: webhook secret is required", apperr.ErrValidation)

	// ErrStale marks an event whose outcome no longer applies, e.g. a late
	// processing notice for a payment that already succeeded.
	ErrStale = fmt.Errorf("%w: event superseded by current state", apperr.ErrConflict)
)
