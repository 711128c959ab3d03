package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/pinboard/pkg/pg"
	"github.com/dmitrymomot/pinboard/svc/payment"
)

const paymentColumns = `id, user_id, subscription_id, amount::text, currency, status, method,
	intent_id, session_id, customer_id, description, metadata, processed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var (
		p              payment.Payment
		amount         string
		status, method string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.SubscriptionID, &amount, &p.Currency, &status, &method,
		&p.IntentID, &p.SessionID, &p.CustomerID, &p.Description, &p.Metadata,
		&p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid payment amount %q: %w", amount, err)
	}
	p.Status = payment.Status(status)
	p.Method = payment.Method(method)
	return &p, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO payments (id, user_id, subscription_id, amount, currency, status, method,
			intent_id, session_id, customer_id, description, metadata, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.UserID, p.SubscriptionID, p.Amount.String(), p.Currency, string(p.Status), string(p.Method),
		p.IntentID, p.SessionID, p.CustomerID, p.Description, metadata(p.Metadata),
		p.ProcessedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *Store) getPayment(ctx context.Context, query string, args ...any) (*payment.Payment, error) {
	p, err := scanPayment(s.db(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+query, args...))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, payment.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return s.getPayment(ctx, `id = $1`, id)
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return s.getPayment(ctx, `id = $1 FOR UPDATE`, id)
}

func (s *Store) FindPayment(ctx context.Context, ref payment.Ref) (*payment.Payment, error) {
	if ref.IntentID != "" {
		p, err := s.getPayment(ctx, `intent_id = $1 ORDER BY created_at DESC LIMIT 1`, ref.IntentID)
		if err == nil || ref.SessionID == "" {
			return p, err
		}
	}
	if ref.SessionID != "" {
		return s.getPayment(ctx, `session_id = $1 ORDER BY created_at DESC LIMIT 1`, ref.SessionID)
	}
	return nil, payment.ErrPaymentNotFound
}

func (s *Store) UpdatePayment(ctx context.Context, p *payment.Payment) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE payments
		SET status = $2, intent_id = $3, session_id = $4, customer_id = $5,
			metadata = $6, processed_at = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, string(p.Status), p.IntentID, p.SessionID, p.CustomerID,
		metadata(p.Metadata), p.ProcessedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) ListPaymentsByUser(ctx context.Context, userID uuid.UUID) ([]payment.Payment, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return payments, nil
}

// DeletePaymentsBefore relies on ON DELETE CASCADE for attempts and refunds.
func (s *Store) DeletePaymentsBefore(ctx context.Context, statuses []payment.Status, before time.Time) (int, error) {
	tag, err := s.db(ctx).Exec(ctx,
		`DELETE FROM payments WHERE status = ANY($1) AND created_at < $2`,
		statusNames(statuses), before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CreateAttempt(ctx context.Context, a *payment.Attempt) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO payment_attempts (id, payment_id, charge_id, status, error_message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.PaymentID, a.ChargeID, string(a.Status), a.ErrorMessage, metadata(a.Metadata), a.CreatedAt,
	)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return payment.ErrPaymentNotFound
		}
		return fmt.Errorf("failed to create payment attempt: %w", err)
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, paymentID uuid.UUID) ([]payment.Attempt, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT id, payment_id, charge_id, status, error_message, metadata, created_at
		FROM payment_attempts
		WHERE payment_id = $1
		ORDER BY created_at, id`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment attempts: %w", err)
	}
	defer rows.Close()

	var attempts []payment.Attempt
	for rows.Next() {
		var (
			a      payment.Attempt
			status string
		)
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.ChargeID, &status, &a.ErrorMessage, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment attempt: %w", err)
		}
		a.Status = payment.Status(status)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment attempts: %w", err)
	}
	return attempts, nil
}

const refundColumns = `id, payment_id, amount::text, reason, status, provider_refund_id,
	failure_reason, created_by, processed_at, created_at, updated_at`

func scanRefund(row pgx.Row) (*payment.Refund, error) {
	var (
		r      payment.Refund
		amount string
		status string
	)
	if err := row.Scan(&r.ID, &r.PaymentID, &amount, &r.Reason, &status, &r.ProviderRefundID,
		&r.FailureReason, &r.CreatedBy, &r.ProcessedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid refund amount %q: %w", amount, err)
	}
	r.Status = payment.Status(status)
	return &r, nil
}

func (s *Store) CreateRefund(ctx context.Context, r *payment.Refund) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO refunds (id, payment_id, amount, reason, status, provider_refund_id,
			failure_reason, created_by, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.PaymentID, r.Amount.String(), r.Reason, string(r.Status), r.ProviderRefundID,
		r.FailureReason, r.CreatedBy, r.ProcessedAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return payment.ErrPaymentNotFound
		}
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

func (s *Store) getRefund(ctx context.Context, query string, arg any) (*payment.Refund, error) {
	r, err := scanRefund(s.db(ctx).QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE `+query, arg))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, payment.ErrRefundNotFound
		}
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return r, nil
}

func (s *Store) GetRefund(ctx context.Context, id uuid.UUID) (*payment.Refund, error) {
	return s.getRefund(ctx, `id = $1`, id)
}

func (s *Store) GetRefundForUpdate(ctx context.Context, id uuid.UUID) (*payment.Refund, error) {
	return s.getRefund(ctx, `id = $1 FOR UPDATE`, id)
}

func (s *Store) FindRefundByProviderID(ctx context.Context, providerRefundID string) (*payment.Refund, error) {
	if providerRefundID == "" {
		return nil, payment.ErrRefundNotFound
	}
	return s.getRefund(ctx, `provider_refund_id = $1 ORDER BY created_at DESC LIMIT 1`, providerRefundID)
}

func (s *Store) UpdateRefund(ctx context.Context, r *payment.Refund) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE refunds
		SET status = $2, provider_refund_id = $3, failure_reason = $4, processed_at = $5, updated_at = $6
		WHERE id = $1`,
		r.ID, string(r.Status), r.ProviderRefundID, r.FailureReason, r.ProcessedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrRefundNotFound
	}
	return nil
}

func (s *Store) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]payment.Refund, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+refundColumns+`
		FROM refunds
		WHERE payment_id = $1
		ORDER BY created_at, id`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer rows.Close()

	var refunds []payment.Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		refunds = append(refunds, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refunds: %w", err)
	}
	return refunds, nil
}

func statusNames[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
