package checkout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/svc/payment"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

// Service starts purchases and manages the buyer's own payments.
type Service interface {
	// Start moves the user's subscription to pending on planID and creates the
	// payment for it. A user with a subscription granting access gets
	// subscription.ErrSubscriptionExists.
	Start(ctx context.Context, userID, planID uuid.UUID) (*Result, error)

	// Payments lists the user's payments newest first.
	Payments(ctx context.Context, userID uuid.UUID) ([]payment.Payment, error)
	// Payment returns one of the user's payments. Payments of other users are
	// reported as payment.ErrPaymentNotFound.
	Payment(ctx context.Context, userID, paymentID uuid.UUID) (*payment.Payment, error)
	// Cancel abandons an open payment of the user.
	Cancel(ctx context.Context, userID, paymentID uuid.UUID) (*payment.Payment, error)
}

// Result of a started checkout. CheckoutURL is empty without a gateway.
type Result struct {
	Subscription *subscription.Subscription
	Payment      *payment.Payment
	CheckoutURL  string
}

// Subscriptions is the part of subscription.Service used here.
type Subscriptions interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*subscription.Plan, error)
	CreatePending(ctx context.Context, userID, planID uuid.UUID) (*subscription.Subscription, error)
}

// Payments is the part of payment.Service used here.
type Payments interface {
	Create(ctx context.Context, params payment.CreateParams) (*payment.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]payment.Payment, error)
	Attach(ctx context.Context, id uuid.UUID, ref payment.Ref) (*payment.Payment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
}

// Transactor runs fn atomically, joining a transaction already carried by ctx.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type service struct {
	subs     Subscriptions
	payments Payments
	tx       Transactor
	gateway  Gateway
	method   payment.Method
	currency string
	log      *slog.Logger
}

// NewService creates a checkout Service.
// Panics if a required dependency is nil.
func NewService(subs Subscriptions, payments Payments, tx Transactor, opts ...ServiceOption) Service {
	if subs == nil {
		panic("checkout: Subscriptions is required")
	}
	if payments == nil {
		panic("checkout: Payments is required")
	}
	if tx == nil {
		panic("checkout: Transactor is required")
	}

	s := &service{
		subs:     subs,
		payments: payments,
		tx:       tx,
		method:   payment.MethodStripe,
		currency: "USD",
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gateway != nil {
		s.method = s.gateway.Method()
	}
	s.log = s.log.With(logger.Component("checkout"))

	return s
}

func (s *service) Start(ctx context.Context, userID, planID uuid.UUID) (*Result, error) {
	var (
		res  = &Result{}
		plan *subscription.Plan
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if plan, err = s.subs.GetPlan(ctx, planID); err != nil {
			return err
		}
		if res.Subscription, err = s.subs.CreatePending(ctx, userID, planID); err != nil {
			return err
		}
		res.Payment, err = s.payments.Create(ctx, payment.CreateParams{
			UserID:         userID,
			SubscriptionID: &res.Subscription.ID,
			Amount:         plan.Price,
			Currency:       s.currency,
			Method:         s.method,
			Description:    fmt.Sprintf("%s subscription", plan.Name),
			Metadata: map[string]any{
				"plan_id":       plan.ID.String(),
				"duration_days": plan.DurationDays,
			},
		})
		return err
	})
	if err != nil {
		return nil, apperr.Internal("checkout: start", err)
	}

	log := s.log.With(logger.UserID(userID), logger.PaymentID(res.Payment.ID), logger.SubscriptionID(res.Subscription.ID))
	if s.gateway == nil {
		log.InfoContext(ctx, "checkout started without gateway")
		return res, nil
	}

	sess, err := s.gateway.CreateSession(ctx, SessionRequest{
		PaymentID:       res.Payment.ID,
		UserID:          userID,
		PlanName:        plan.Name,
		ProviderPriceID: plan.ProviderPriceID,
		Amount:          res.Payment.Amount,
		Currency:        res.Payment.Currency,
	})
	if err != nil {
		log.ErrorContext(ctx, "checkout session failed", logger.Error(err))
		if _, cerr := s.payments.Cancel(ctx, res.Payment.ID); cerr != nil {
			log.WarnContext(ctx, "failed to cancel abandoned payment", logger.Error(cerr))
		}
		return nil, fmt.Errorf("%w: %w", ErrGatewayFailed, err)
	}

	p, err := s.payments.Attach(ctx, res.Payment.ID, payment.Ref{
		IntentID:   sess.IntentID,
		SessionID:  sess.ID,
		CustomerID: sess.CustomerID,
	})
	if err != nil {
		return nil, err
	}
	res.Payment = p
	res.CheckoutURL = sess.URL

	log.InfoContext(ctx, "checkout session opened", slog.String("session_id", sess.ID))
	return res, nil
}

func (s *service) Payments(ctx context.Context, userID uuid.UUID) ([]payment.Payment, error) {
	return s.payments.ListByUser(ctx, userID)
}

func (s *service) Payment(ctx context.Context, userID, paymentID uuid.UUID) (*payment.Payment, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, payment.ErrPaymentNotFound
	}
	return p, nil
}

func (s *service) Cancel(ctx context.Context, userID, paymentID uuid.UUID) (*payment.Payment, error) {
	if _, err := s.Payment(ctx, userID, paymentID); err != nil {
		return nil, err
	}
	p, err := s.payments.Cancel(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "payment canceled by buyer", logger.UserID(userID), logger.PaymentID(paymentID))
	return p, nil
}
