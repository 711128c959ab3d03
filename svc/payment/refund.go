package payment

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/pkg/statemachine"
)

// CreateRefund opens a pending refund. Pending and succeeded refunds together
// never exceed the payment amount.
func (s *service) CreateRefund(ctx context.Context, params RefundParams) (*Refund, error) {
	if !params.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	amount := params.Amount.Round(2)

	var r *Refund
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.store.GetPaymentForUpdate(ctx, params.PaymentID)
		if err != nil {
			return err
		}
		if !p.CanBeRefunded() {
			return ErrNotRefundable
		}

		refunds, err := s.store.ListRefunds(ctx, p.ID)
		if err != nil {
			return err
		}
		reserved := sumRefunds(refunds, StatusPending, StatusSucceeded)
		if amount.GreaterThan(p.Amount.Sub(reserved)) {
			return ErrRefundExceedsAmount
		}

		now := s.now()
		r = &Refund{
			ID:               uuid.New(),
			PaymentID:        p.ID,
			Amount:           amount,
			Reason:           params.Reason,
			Status:           StatusPending,
			ProviderRefundID: params.ProviderRefundID,
			CreatedBy:        params.CreatedBy,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return s.store.CreateRefund(ctx, r)
	})
	if err != nil {
		return nil, apperr.Internal("payment: create refund", err)
	}

	s.metrics.Refund(string(StatusPending))
	s.log.InfoContext(ctx, "refund requested",
		logger.RefundID(r.ID),
		logger.PaymentID(r.PaymentID),
		slog.String("amount", r.Amount.StringFixed(2)),
	)
	return r, nil
}

// ConfirmRefund settles a pending refund. When succeeded refunds cover the
// whole payment, the payment becomes refunded in the same transaction.
func (s *service) ConfirmRefund(ctx context.Context, refundID uuid.UUID, providerRefundID string) (*Refund, error) {
	return s.settle(ctx, refundID, EventConfirm, &refundChange{providerID: providerRefundID})
}

func (s *service) FailRefund(ctx context.Context, refundID uuid.UUID, reason string) (*Refund, error) {
	return s.settle(ctx, refundID, EventReject, &refundChange{reason: reason})
}

func (s *service) GetRefund(ctx context.Context, refundID uuid.UUID) (*Refund, error) {
	r, err := s.store.GetRefund(ctx, refundID)
	if err != nil {
		return nil, apperr.Internal("payment: get refund", err)
	}
	return r, nil
}

func (s *service) FindRefundByProviderID(ctx context.Context, providerRefundID string) (*Refund, error) {
	if providerRefundID == "" {
		return nil, ErrRefundNotFound
	}
	r, err := s.store.FindRefundByProviderID(ctx, providerRefundID)
	if err != nil {
		return nil, apperr.Internal("payment: find refund", err)
	}
	return r, nil
}

func (s *service) Refunds(ctx context.Context, paymentID uuid.UUID) ([]Refund, error) {
	refunds, err := s.store.ListRefunds(ctx, paymentID)
	if err != nil {
		return nil, apperr.Internal("payment: refunds", err)
	}
	return refunds, nil
}

func (s *service) settle(ctx context.Context, refundID uuid.UUID, event statemachine.StringEvent, c *refundChange) (*Refund, error) {
	var (
		from          Status
		paymentFrom   Status
		paymentStatus Status
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.store.GetRefund(ctx, refundID)
		if err != nil {
			return err
		}
		// Payment first, then refund: the same order CreateRefund locks in.
		p, err := s.store.GetPaymentForUpdate(ctx, r.PaymentID)
		if err != nil {
			return err
		}
		if r, err = s.store.GetRefundForUpdate(ctx, refundID); err != nil {
			return err
		}
		from = r.Status
		paymentFrom, paymentStatus = p.Status, p.Status

		c.refund, c.now = r, s.now()
		if _, err := s.refundMachine.Fire(ctx, from, event, c); err != nil {
			return machineError(err, event, from)
		}
		if r.Status != StatusSucceeded || p.Status != StatusSucceeded {
			return nil
		}

		refunds, err := s.store.ListRefunds(ctx, p.ID)
		if err != nil {
			return err
		}
		if sumRefunds(refunds, StatusSucceeded).LessThan(p.Amount) {
			return nil
		}
		pc := &paymentChange{payment: p, now: c.now}
		if _, err := s.machine.Fire(ctx, p.Status, EventRefund, pc); err != nil {
			return machineError(err, EventRefund, p.Status)
		}
		paymentStatus = p.Status
		return nil
	})
	if err != nil {
		return nil, apperr.Internal("payment: "+string(event)+" refund", err)
	}

	r := c.refund
	if r.Status != from {
		s.metrics.Refund(string(r.Status))
		s.log.InfoContext(ctx, "refund settled",
			logger.RefundID(r.ID),
			logger.PaymentID(r.PaymentID),
			logger.Transition(string(from), string(r.Status)),
		)
	}
	if paymentStatus != paymentFrom {
		s.metrics.PaymentTransition(string(paymentFrom), string(paymentStatus))
		s.log.InfoContext(ctx, "payment fully refunded", logger.PaymentID(r.PaymentID))
	}
	return r, nil
}

func sumRefunds(refunds []Refund, statuses ...Status) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refunds {
		for _, st := range statuses {
			if r.Status == st {
				total = total.Add(r.Amount)
				break
			}
		}
	}
	return total
}
