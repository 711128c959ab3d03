package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/pinboard/svc/payment"
)

const PaddleSignatureHeader = "Paddle-Signature"

// PaddleConfig holds the Paddle notification destination secret.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
}

// PaddleProvider handles Paddle Billing notifications.
type PaddleProvider struct {
	verifier *paddle.WebhookVerifier
}

func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("paddle: %w", ErrMissingSecret)
	}
	return &PaddleProvider{verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret)}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

// Verify checks the Paddle-Signature header. The SDK verifier works on a
// request, so one is rebuilt around the raw payload.
func (p *PaddleProvider) Verify(ctx context.Context, payload []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	req.Header.Set(PaddleSignatureHeader, header.Get(PaddleSignatureHeader))

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

type paddleEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Action         string         `json:"action"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	TransactionID  string         `json:"transaction_id"`
	Reason         string         `json:"reason"`
	CustomData     map[string]any `json:"custom_data"`
	Payments       []struct {
		PaymentAttemptID string `json:"payment_attempt_id"`
		Status           string `json:"status"`
		ErrorCode        string `json:"error_code"`
	} `json:"payments"`
}

func (p *PaddleProvider) Parse(payload []byte) (Envelope, error) {
	var e paddleEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if e.EventID == "" || e.EventType == "" {
		return Envelope{}, fmt.Errorf("%w: event_id and event_type are required", ErrMalformedPayload)
	}
	return Envelope{EventID: e.EventID, EventType: e.EventType}, nil
}

func (p *PaddleProvider) Decode(eventType string, payload []byte) (*Notification, error) {
	var e paddleEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var d paddleData
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
		}
	}

	n := &Notification{
		CustomerID: d.CustomerID,
		PaymentID:  uuidFrom(d.CustomData[payment.MetadataPaymentID]),
		RefundID:   uuidFrom(d.CustomData[payment.MetadataRefundID]),
	}

	switch eventType {
	case "transaction.billed":
		n.Kind = KindPaymentProcessing
	case "transaction.paid", "transaction.completed":
		n.Kind = KindPaymentSucceeded
	case "transaction.payment_failed":
		n.Kind = KindPaymentFailed
	case "transaction.canceled":
		n.Kind = KindPaymentCanceled
	case "adjustment.created", "adjustment.updated":
		if d.Action != "refund" {
			return n, nil
		}
		n.ProviderRefundID = d.ID
		n.IntentID = d.TransactionID
		switch d.Status {
		case "approved":
			n.Kind = KindRefundSucceeded
		case "rejected":
			n.Kind = KindRefundFailed
			n.ErrorMessage = "refund rejected by paddle"
		}
		return n, nil
	case "subscription.canceled":
		n.Kind = KindSubscriptionCanceled
		n.SubscriptionRef = d.ID
		return n, nil
	default:
		return n, nil
	}

	// transaction.*
	n.IntentID = d.ID
	n.SubscriptionRef = d.SubscriptionID
	if len(d.Payments) > 0 {
		last := d.Payments[0]
		n.ChargeID = last.PaymentAttemptID
		n.ErrorMessage = last.ErrorCode
	}
	if n.Kind == KindPaymentFailed && n.ErrorMessage == "" {
		n.ErrorMessage = "payment failed"
	}
	return n, nil
}
