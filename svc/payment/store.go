package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transactor runs fn atomically, joining a transaction already carried by ctx.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	// GetPayment returns ErrPaymentNotFound if no row exists.
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	// FindPayment matches by intent id, then session id. Customer id alone never matches.
	FindPayment(ctx context.Context, ref Ref) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
	// ListPaymentsByUser returns the user's payments newest first.
	ListPaymentsByUser(ctx context.Context, userID uuid.UUID) ([]Payment, error)
	// DeletePaymentsBefore removes payments in statuses created before the cutoff,
	// with their attempts and refunds.
	DeletePaymentsBefore(ctx context.Context, statuses []Status, before time.Time) (int, error)

	CreateAttempt(ctx context.Context, a *Attempt) error
	// ListAttempts returns attempts oldest first.
	ListAttempts(ctx context.Context, paymentID uuid.UUID) ([]Attempt, error)

	CreateRefund(ctx context.Context, r *Refund) error
	// GetRefund returns ErrRefundNotFound if no row exists.
	GetRefund(ctx context.Context, id uuid.UUID) (*Refund, error)
	GetRefundForUpdate(ctx context.Context, id uuid.UUID) (*Refund, error)
	FindRefundByProviderID(ctx context.Context, providerRefundID string) (*Refund, error)
	UpdateRefund(ctx context.Context, r *Refund) error
	// ListRefunds returns refunds oldest first.
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]Refund, error)
}
