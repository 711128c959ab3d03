package payment

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/pkg/metrics"
	"github.com/dmitrymomot/pinboard/pkg/statemachine"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

// SubscriptionBridge receives payment outcomes for the linked subscription.
// It is called inside the payment's transaction. subscription.Service satisfies it.
type SubscriptionBridge interface {
	ActivateFromPayment(ctx context.Context, subscriptionID uuid.UUID, ref subscription.PaymentRef) error
	RecordPaymentFailure(ctx context.Context, subscriptionID uuid.UUID, ref subscription.PaymentRef) error
}

// Service defines the public interface for payments, attempts and refunds.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*Payment, error)
	Get(ctx context.Context, id uuid.UUID) (*Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Payment, error)
	FindByProviderRef(ctx context.Context, ref Ref) (*Payment, error)
	Attach(ctx context.Context, id uuid.UUID, ref Ref) (*Payment, error)

	MarkProcessing(ctx context.Context, id uuid.UUID) (*Payment, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) (*Payment, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*Payment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*Payment, error)

	RecordAttempt(ctx context.Context, params AttemptParams) (*Attempt, error)
	Attempts(ctx context.Context, paymentID uuid.UUID) ([]Attempt, error)

	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)
	ConfirmRefund(ctx context.Context, refundID uuid.UUID, providerRefundID string) (*Refund, error)
	FailRefund(ctx context.Context, refundID uuid.UUID, reason string) (*Refund, error)
	GetRefund(ctx context.Context, refundID uuid.UUID) (*Refund, error)
	FindRefundByProviderID(ctx context.Context, providerRefundID string) (*Refund, error)
	Refunds(ctx context.Context, paymentID uuid.UUID) ([]Refund, error)

	CleanupFailed(ctx context.Context, olderThan time.Duration) (int, error)
}

type service struct {
	store         Store
	tx            Transactor
	bridge        SubscriptionBridge
	machine       *statemachine.Table
	refundMachine *statemachine.Table
	now           func() time.Time
	log           *slog.Logger
	metrics       *metrics.Metrics
}

// NewService creates a payment Service.
// Panics if a required dependency is nil.
func NewService(store Store, tx Transactor, bridge SubscriptionBridge, opts ...ServiceOption) Service {
	if store == nil {
		panic("payment: Store is required")
	}
	if tx == nil {
		panic("payment: Transactor is required")
	}
	if bridge == nil {
		panic("payment: SubscriptionBridge is required")
	}

	s := &service{
		store:  store,
		tx:     tx,
		bridge: bridge,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("payment"))
	s.machine = s.newMachine()
	s.refundMachine = s.newRefundMachine()

	return s
}

func (s *service) Create(ctx context.Context, params CreateParams) (*Payment, error) {
	if !params.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if len(currency) != 3 {
		return nil, ErrInvalidCurrency
	}
	if !params.Method.Valid() {
		return nil, ErrInvalidMethod
	}

	now := s.now()
	p := &Payment{
		ID:             uuid.New(),
		UserID:         params.UserID,
		SubscriptionID: params.SubscriptionID,
		Amount:         params.Amount.Round(2),
		Currency:       currency,
		Status:         StatusPending,
		Method:         params.Method,
		IntentID:       params.Ref.IntentID,
		SessionID:      params.Ref.SessionID,
		CustomerID:     params.Ref.CustomerID,
		Description:    params.Description,
		Metadata:       maps.Clone(params.Metadata),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}

	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, apperr.Internal("payment: create", err)
	}

	s.log.InfoContext(ctx, "payment created",
		logger.PaymentID(p.ID),
		logger.UserID(p.UserID),
		slog.String("amount", p.Amount.StringFixed(2)),
		slog.String("currency", p.Currency),
		slog.String("method", string(p.Method)),
	)
	return p, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, apperr.Internal("payment: get", err)
	}
	return p, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Payment, error) {
	payments, err := s.store.ListPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("payment: list by user", err)
	}
	return payments, nil
}

func (s *service) FindByProviderRef(ctx context.Context, ref Ref) (*Payment, error) {
	if ref.IntentID == "" && ref.SessionID == "" {
		return nil, ErrPaymentNotFound
	}
	p, err := s.store.FindPayment(ctx, ref)
	if err != nil {
		return nil, apperr.Internal("payment: find by provider ref", err)
	}
	return p, nil
}

// Attach records provider identifiers learned after creation.
// Terminal payments keep their identifiers.
func (s *service) Attach(ctx context.Context, id uuid.UUID, ref Ref) (*Payment, error) {
	var p *Payment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.store.GetPaymentForUpdate(ctx, id); err != nil {
			return err
		}
		if ref.IsZero() || !p.IsPending() {
			return nil
		}

		changed := false
		set := func(dst *string, v string) {
			if v != "" && *dst != v {
				*dst = v
				changed = true
			}
		}
		set(&p.IntentID, ref.IntentID)
		set(&p.SessionID, ref.SessionID)
		set(&p.CustomerID, ref.CustomerID)
		if !changed {
			return nil
		}
		p.UpdatedAt = s.now()
		return s.store.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, apperr.Internal("payment: attach", err)
	}
	return p, nil
}

func (s *service) MarkProcessing(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.transition(ctx, id, EventProcess, "")
}

func (s *service) MarkSucceeded(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.transition(ctx, id, EventSucceed, "")
}

func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*Payment, error) {
	return s.transition(ctx, id, EventFail, reason)
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.transition(ctx, id, EventCancel, "")
}

func (s *service) RecordAttempt(ctx context.Context, params AttemptParams) (*Attempt, error) {
	a := &Attempt{
		ID:           uuid.New(),
		PaymentID:    params.PaymentID,
		ChargeID:     params.ChargeID,
		Status:       params.Status,
		ErrorMessage: params.ErrorMessage,
		Metadata:     maps.Clone(params.Metadata),
		CreatedAt:    s.now(),
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetPayment(ctx, params.PaymentID); err != nil {
			return err
		}
		return s.store.CreateAttempt(ctx, a)
	})
	if err != nil {
		return nil, apperr.Internal("payment: record attempt", err)
	}
	return a, nil
}

func (s *service) Attempts(ctx context.Context, paymentID uuid.UUID) ([]Attempt, error) {
	attempts, err := s.store.ListAttempts(ctx, paymentID)
	if err != nil {
		return nil, apperr.Internal("payment: attempts", err)
	}
	return attempts, nil
}

// CleanupFailed deletes failed and cancelled payments created before now-olderThan.
func (s *service) CleanupFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, apperr.Validation("retention must be positive, got %s", olderThan)
	}
	cutoff := s.now().Add(-olderThan)
	n, err := s.store.DeletePaymentsBefore(ctx, []Status{StatusFailed, StatusCancelled}, cutoff)
	if err != nil {
		return 0, apperr.Internal("payment: cleanup", err)
	}
	if n > 0 {
		s.log.InfoContext(ctx, "failed payments removed", logger.Count(n), slog.Time("before", cutoff))
	}
	return n, nil
}

// transition captures the stored status before firing event so the
// subscription side effects see the real edge, then persists in one transaction.
func (s *service) transition(ctx context.Context, id uuid.UUID, event statemachine.StringEvent, reason string) (*Payment, error) {
	var (
		p    *Payment
		from Status
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.store.GetPaymentForUpdate(ctx, id); err != nil {
			return err
		}
		from = p.Status

		c := &paymentChange{payment: p, reason: reason, now: s.now()}
		if _, err := s.machine.Fire(ctx, from, event, c); err != nil {
			return machineError(err, event, from)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal("payment: "+string(event), err)
	}

	if p.Status != from {
		s.metrics.PaymentTransition(string(from), string(p.Status))
		s.log.InfoContext(ctx, "payment transition",
			logger.PaymentID(p.ID),
			logger.Transition(string(from), string(p.Status)),
		)
	}
	return p, nil
}

func machineError(err error, event statemachine.Event, from Status) error {
	if statemachine.IsNoTransitionAvailableError(err) || statemachine.IsTransitionRejectedError(err) {
		return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, event.Name(), from)
	}
	return err
}
