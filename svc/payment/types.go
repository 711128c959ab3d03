package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is shared by payments and refunds.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

func (s Status) Name() string { return string(s) }

// Method is the payment provider that charged the customer.
type Method string

const (
	MethodStripe Method = "stripe"
	MethodPaddle Method = "paddle"
	MethodPayPal Method = "paypal"
	MethodManual Method = "manual"
)

// Provider metadata keys that carry our identifiers through a checkout or
// refund and back in the webhook.
const (
	MetadataPaymentID = "payment_id"
	MetadataRefundID  = "refund_id"
)

func (m Method) Valid() bool {
	switch m {
	case MethodStripe, MethodPaddle, MethodPayPal, MethodManual:
		return true
	}
	return false
}

// SupportsRefunds reports whether refunds can be issued through the provider.
func (m Method) SupportsRefunds() bool {
	return m == MethodStripe || m == MethodPaddle
}

// Payment is one attempted charge.
type Payment struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Status         Status
	Method         Method
	IntentID       string
	SessionID      string
	CustomerID     string
	Description    string
	Metadata       map[string]any
	ProcessedAt    *time.Time // set on the terminal transition only
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p *Payment) IsSuccessful() bool {
	return p.Status == StatusSucceeded
}

func (p *Payment) IsPending() bool {
	return p.Status == StatusPending || p.Status == StatusProcessing
}

func (p *Payment) CanBeRefunded() bool {
	return p.Status == StatusSucceeded && p.Method.SupportsRefunds()
}

// Ref holds provider identifiers of a payment. Empty fields are ignored.
type Ref struct {
	IntentID   string
	SessionID  string
	CustomerID string
}

func (r Ref) IsZero() bool {
	return r.IntentID == "" && r.SessionID == "" && r.CustomerID == ""
}

// Attempt is a write-once record of a provider-side charge attempt.
type Attempt struct {
	ID           uuid.UUID
	PaymentID    uuid.UUID
	ChargeID     string
	Status       Status
	ErrorMessage string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Refund reverses all or part of a payment.
type Refund struct {
	ID               uuid.UUID
	PaymentID        uuid.UUID
	Amount           decimal.Decimal
	Reason           string
	Status           Status
	ProviderRefundID string
	FailureReason    string
	CreatedBy        *uuid.UUID
	ProcessedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsPartial reports whether the refund covers less than the payment amount.
func (r *Refund) IsPartial(p *Payment) bool {
	return r.Amount.LessThan(p.Amount)
}

// CreateParams describes a new payment.
type CreateParams struct {
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Method         Method
	Ref            Ref
	Description    string
	Metadata       map[string]any
}

// AttemptParams describes a provider charge attempt.
type AttemptParams struct {
	PaymentID    uuid.UUID
	ChargeID     string
	Status       Status
	ErrorMessage string
	Metadata     map[string]any
}

// RefundParams describes a refund request.
type RefundParams struct {
	PaymentID        uuid.UUID
	Amount           decimal.Decimal
	Reason           string
	ProviderRefundID string
	CreatedBy        *uuid.UUID
}
