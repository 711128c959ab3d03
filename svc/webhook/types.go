package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Status of a stored webhook event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
	StatusIgnored   Status = "ignored"
)

// Event is one delivery from a payment provider. (Provider, EventID) is unique.
type Event struct {
	ID           uuid.UUID
	Provider     string
	EventID      string
	EventType    string
	Payload      []byte
	Status       Status
	ErrorMessage string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Kind is the provider-neutral meaning of an event.
type Kind string

const (
	KindNone                 Kind = ""
	KindPaymentProcessing    Kind = "payment_processing"
	KindPaymentSucceeded     Kind = "payment_succeeded"
	KindPaymentFailed        Kind = "payment_failed"
	KindPaymentCanceled      Kind = "payment_canceled"
	KindRefundSucceeded      Kind = "refund_succeeded"
	KindRefundFailed         Kind = "refund_failed"
	KindSubscriptionCanceled Kind = "subscription_canceled"
)

// Envelope carries the fields every provider event has.
type Envelope struct {
	EventID   string
	EventType string
}

// Notification is a decoded event. Identifiers the provider did not send are empty.
type Notification struct {
	Kind             Kind
	PaymentID        *uuid.UUID // our id, echoed back through provider metadata
	RefundID         *uuid.UUID
	IntentID         string
	SessionID        string
	CustomerID       string
	ChargeID         string
	ProviderRefundID string
	SubscriptionRef  string
	ErrorMessage     string
}

// IngestResult reports what happened to a delivery.
type IngestResult struct {
	Event     *Event
	Duplicate bool
}

// RetryResult summarizes one retry sweep.
type RetryResult struct {
	Attempted int
	Processed int
	Failed    int
}
