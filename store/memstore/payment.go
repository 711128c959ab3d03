package memstore

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/svc/payment"
)

func clonePayment(p payment.Payment) *payment.Payment {
	p.SubscriptionID = clonePtr(p.SubscriptionID)
	p.ProcessedAt = clonePtr(p.ProcessedAt)
	p.Metadata = cloneMeta(p.Metadata)
	return &p
}

func cloneRefund(r payment.Refund) *payment.Refund {
	r.CreatedBy = clonePtr(r.CreatedBy)
	r.ProcessedAt = clonePtr(r.ProcessedAt)
	return &r
}

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	return s.do(ctx, func(d *state) error {
		d.payments[p.ID] = *clonePayment(*p)
		return nil
	})
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	var out *payment.Payment
	err := s.do(ctx, func(d *state) error {
		p, ok := d.payments[id]
		if !ok {
			return payment.ErrPaymentNotFound
		}
		out = clonePayment(p)
		return nil
	})
	return out, err
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return s.GetPayment(ctx, id)
}

func (s *Store) FindPayment(ctx context.Context, ref payment.Ref) (*payment.Payment, error) {
	var out *payment.Payment
	err := s.do(ctx, func(d *state) error {
		if ref.IntentID != "" {
			for _, p := range d.payments {
				if p.IntentID == ref.IntentID {
					out = clonePayment(p)
					return nil
				}
			}
		}
		if ref.SessionID != "" {
			for _, p := range d.payments {
				if p.SessionID == ref.SessionID {
					out = clonePayment(p)
					return nil
				}
			}
		}
		return payment.ErrPaymentNotFound
	})
	return out, err
}

func (s *Store) UpdatePayment(ctx context.Context, p *payment.Payment) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.payments[p.ID]; !ok {
			return payment.ErrPaymentNotFound
		}
		d.payments[p.ID] = *clonePayment(*p)
		return nil
	})
}

func (s *Store) ListPaymentsByUser(ctx context.Context, userID uuid.UUID) ([]payment.Payment, error) {
	var out []payment.Payment
	err := s.do(ctx, func(d *state) error {
		for _, p := range d.payments {
			if p.UserID == userID {
				out = append(out, *clonePayment(p))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b payment.Payment) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
	return out, err
}

func (s *Store) DeletePaymentsBefore(ctx context.Context, statuses []payment.Status, before time.Time) (int, error) {
	var n int
	err := s.do(ctx, func(d *state) error {
		for id, p := range d.payments {
			if !slices.Contains(statuses, p.Status) || !p.CreatedAt.Before(before) {
				continue
			}
			delete(d.payments, id)
			d.attempts = slices.DeleteFunc(d.attempts, func(a payment.Attempt) bool { return a.PaymentID == id })
			d.refunds = slices.DeleteFunc(d.refunds, func(r payment.Refund) bool { return r.PaymentID == id })
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) CreateAttempt(ctx context.Context, a *payment.Attempt) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.payments[a.PaymentID]; !ok {
			return payment.ErrPaymentNotFound
		}
		cp := *a
		cp.Metadata = cloneMeta(a.Metadata)
		d.attempts = append(d.attempts, cp)
		return nil
	})
}

func (s *Store) ListAttempts(ctx context.Context, paymentID uuid.UUID) ([]payment.Attempt, error) {
	var out []payment.Attempt
	err := s.do(ctx, func(d *state) error {
		for _, a := range d.attempts {
			if a.PaymentID == paymentID {
				a.Metadata = cloneMeta(a.Metadata)
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) CreateRefund(ctx context.Context, r *payment.Refund) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.payments[r.PaymentID]; !ok {
			return payment.ErrPaymentNotFound
		}
		d.refunds = append(d.refunds, *cloneRefund(*r))
		return nil
	})
}

func (s *Store) GetRefund(ctx context.Context, id uuid.UUID) (*payment.Refund, error) {
	return s.findRefund(ctx, func(r payment.Refund) bool { return r.ID == id })
}

func (s *Store) GetRefundForUpdate(ctx context.Context, id uuid.UUID) (*payment.Refund, error) {
	return s.GetRefund(ctx, id)
}

func (s *Store) FindRefundByProviderID(ctx context.Context, providerRefundID string) (*payment.Refund, error) {
	return s.findRefund(ctx, func(r payment.Refund) bool {
		return providerRefundID != "" && r.ProviderRefundID == providerRefundID
	})
}

func (s *Store) findRefund(ctx context.Context, match func(payment.Refund) bool) (*payment.Refund, error) {
	var out *payment.Refund
	err := s.do(ctx, func(d *state) error {
		for _, r := range d.refunds {
			if match(r) {
				out = cloneRefund(r)
				return nil
			}
		}
		return payment.ErrRefundNotFound
	})
	return out, err
}

func (s *Store) UpdateRefund(ctx context.Context, r *payment.Refund) error {
	return s.do(ctx, func(d *state) error {
		for i := range d.refunds {
			if d.refunds[i].ID == r.ID {
				d.refunds[i] = *cloneRefund(*r)
				return nil
			}
		}
		return payment.ErrRefundNotFound
	})
}

func (s *Store) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]payment.Refund, error) {
	var out []payment.Refund
	err := s.do(ctx, func(d *state) error {
		for _, r := range d.refunds {
			if r.PaymentID == paymentID {
				out = append(out, *cloneRefund(r))
			}
		}
		return nil
	})
	return out, err
}
