package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/dmitrymomot/pinboard/svc/payment"
)

// StripeConfig configures hosted Checkout Sessions.
type StripeConfig struct {
	SecretKey  string `env:"STRIPE_SECRET_KEY"`
	SuccessURL string `env:"STRIPE_CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/checkout/success"`
	CancelURL  string `env:"STRIPE_CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/checkout/cancel"`
}

// StripeGateway opens Stripe Checkout Sessions in payment mode.
type StripeGateway struct {
	api        *client.API
	successURL string
	cancelURL  string
}

// NewStripeGateway builds a gateway on the Stripe API. backends may be nil
// to use the default Stripe endpoints.
func NewStripeGateway(cfg StripeConfig, backends *stripe.Backends) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &StripeGateway{
		api:        client.New(cfg.SecretKey, backends),
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}, nil
}

func (g *StripeGateway) Method() payment.Method { return payment.MethodStripe }

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	paymentID := req.PaymentID.String()

	item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if req.ProviderPriceID != "" {
		item.Price = stripe.String(req.ProviderPriceID)
	} else {
		item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(req.Currency)),
			UnitAmount: stripe.Int64(req.Amount.Shift(2).Round(0).IntPart()),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(req.PlanName),
			},
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(paymentID),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{item},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{payment.MetadataPaymentID: paymentID},
		},
	}
	params.Context = ctx
	params.AddMetadata(payment.MetadataPaymentID, paymentID)
	params.AddMetadata("user_id", req.UserID.String())

	cs, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	sess := &Session{ID: cs.ID, URL: cs.URL}
	if cs.PaymentIntent != nil {
		sess.IntentID = cs.PaymentIntent.ID
	}
	if cs.Customer != nil {
		sess.CustomerID = cs.Customer.ID
	}
	return sess, nil
}
