package checkout

import (
	"fmt"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
)

var (
	ErrGatewayFailed = fmt.Errorf("%w: checkout session could not be created", apperr.ErrExternal)
	ErrMissingAPIKey = fmt.Errorf("%w: payment provider API key is not configured", apperr.ErrInternal)
)
