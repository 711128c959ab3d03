package checkout

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/pinboard/svc/payment"
)

// Gateway opens a hosted payment page with a provider.
type Gateway interface {
	Method() payment.Method
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// SessionRequest describes the single line item being bought.
type SessionRequest struct {
	PaymentID       uuid.UUID
	UserID          uuid.UUID
	PlanName        string
	ProviderPriceID string // used instead of Amount when set
	Amount          decimal.Decimal
	Currency        string
}

// Session is the provider side of a checkout. Identifiers the provider has
// not assigned yet are empty.
type Session struct {
	ID         string
	URL        string
	IntentID   string
	CustomerID string
}
