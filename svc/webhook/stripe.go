package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v78"
	stripewebhook "github.com/stripe/stripe-go/v78/webhook"

	"github.com/dmitrymomot/pinboard/svc/payment"
)

const StripeSignatureHeader = "Stripe-Signature"

// StripeConfig holds the endpoint signing secret.
type StripeConfig struct {
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	Tolerance     time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// StripeProvider verifies Stripe-Signature deliveries with stripe-go and maps
// events onto notifications.
type StripeProvider struct {
	secret  string
	options stripewebhook.ConstructEventOptions
}

func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe: %w", ErrMissingSecret)
	}
	return &StripeProvider{
		secret: cfg.WebhookSecret,
		options: stripewebhook.ConstructEventOptions{
			Tolerance: cfg.Tolerance,
			// The endpoint API version is pinned in the dashboard, not by the SDK.
			IgnoreAPIVersionMismatch: true,
		},
	}, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

// Verify checks the signature and timestamp tolerance. Secret rotation sends
// several v1 entries; any match is accepted.
func (p *StripeProvider) Verify(_ context.Context, payload []byte, header http.Header) error {
	raw := header.Get(StripeSignatureHeader)
	if raw == "" {
		return fmt.Errorf("%w: %s header is missing", ErrInvalidSignature, StripeSignatureHeader)
	}
	if _, err := stripewebhook.ConstructEventWithOptions(payload, raw, p.secret, p.options); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (p *StripeProvider) Parse(payload []byte) (Envelope, error) {
	e, err := decodeStripeEvent(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{EventID: e.ID, EventType: string(e.Type)}, nil
}

func decodeStripeEvent(payload []byte) (*stripe.Event, error) {
	var e stripe.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if e.ID == "" || e.Type == "" {
		return nil, fmt.Errorf("%w: id and type are required", ErrMalformedPayload)
	}
	return &e, nil
}

func (p *StripeProvider) Decode(eventType string, payload []byte) (*Notification, error) {
	e, err := decodeStripeEvent(payload)
	if err != nil {
		return nil, err
	}
	if e.Data == nil || len(e.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: data.object is missing", ErrMalformedPayload)
	}
	raw := e.Data.Raw

	n := &Notification{}
	switch eventType {
	case "payment_intent.processing", "payment_intent.succeeded",
		"payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		decodeIntent(n, eventType, &pi)

	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		decodeSession(n, eventType, &cs)

	case "refund.updated", "charge.refund.updated":
		var r stripe.Refund
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		decodeRefund(n, &r)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		n.Kind = KindSubscriptionCanceled
		n.SubscriptionRef = sub.ID
		n.CustomerID = customerID(sub.Customer)
	}

	return n, nil
}

func decodeIntent(n *Notification, eventType string, pi *stripe.PaymentIntent) {
	n.IntentID = pi.ID
	n.CustomerID = customerID(pi.Customer)
	n.PaymentID = uuidFrom(pi.Metadata[payment.MetadataPaymentID])
	if pi.LatestCharge != nil {
		n.ChargeID = pi.LatestCharge.ID
	}

	switch eventType {
	case "payment_intent.processing":
		n.Kind = KindPaymentProcessing
	case "payment_intent.succeeded":
		n.Kind = KindPaymentSucceeded
	case "payment_intent.payment_failed":
		n.Kind = KindPaymentFailed
		n.ErrorMessage = "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			n.ErrorMessage = pi.LastPaymentError.Msg
		}
	case "payment_intent.canceled":
		n.Kind = KindPaymentCanceled
	}
}

func decodeSession(n *Notification, eventType string, cs *stripe.CheckoutSession) {
	n.SessionID = cs.ID
	n.CustomerID = customerID(cs.Customer)
	n.PaymentID = uuidFrom(cs.Metadata[payment.MetadataPaymentID])
	if n.PaymentID == nil {
		n.PaymentID = uuidFrom(cs.ClientReferenceID)
	}
	if cs.PaymentIntent != nil {
		n.IntentID = cs.PaymentIntent.ID
	}

	switch eventType {
	case "checkout.session.completed":
		n.Kind = KindPaymentProcessing
		if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			n.Kind = KindPaymentSucceeded
		}
	case "checkout.session.async_payment_succeeded":
		n.Kind = KindPaymentSucceeded
	case "checkout.session.async_payment_failed":
		n.Kind = KindPaymentFailed
		n.ErrorMessage = "asynchronous payment failed"
		return
	case "checkout.session.expired":
		n.Kind = KindPaymentCanceled
		return
	}
	if cs.Subscription != nil {
		n.SubscriptionRef = cs.Subscription.ID
	}
}

func decodeRefund(n *Notification, r *stripe.Refund) {
	n.ProviderRefundID = r.ID
	n.RefundID = uuidFrom(r.Metadata[payment.MetadataRefundID])
	n.PaymentID = uuidFrom(r.Metadata[payment.MetadataPaymentID])
	if r.PaymentIntent != nil {
		n.IntentID = r.PaymentIntent.ID
	}

	switch r.Status {
	case stripe.RefundStatusSucceeded:
		n.Kind = KindRefundSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		n.Kind = KindRefundFailed
		n.ErrorMessage = string(r.FailureReason)
		if n.ErrorMessage == "" {
			n.ErrorMessage = "refund " + string(r.Status)
		}
	}
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
