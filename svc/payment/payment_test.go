package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/store/memstore"
	"github.com/dmitrymomot/pinboard/svc/payment"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	payments payment.Service
	subs     subscription.Service
	clock    *clock
	plan     subscription.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memstore.New()
	clk := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	subs := subscription.NewService(st, st, st,
		subscription.WithClock(clk.Now),
		subscription.WithLogger(logger.Discard()),
	)
	payments := payment.NewService(st, st, subs,
		payment.WithClock(clk.Now),
		payment.WithLogger(logger.Discard()),
	)

	plan := subscription.DefaultPlan()
	require.NoError(t, subs.UpsertPlan(context.Background(), &plan))

	return &fixture{payments: payments, subs: subs, clock: clk, plan: plan}
}

func (f *fixture) pendingPayment(t *testing.T, method payment.Method) (*payment.Payment, *subscription.Subscription) {
	t.Helper()
	ctx := context.Background()

	sub, err := f.subs.CreatePending(ctx, uuid.New(), f.plan.ID)
	require.NoError(t, err)

	p, err := f.payments.Create(ctx, payment.CreateParams{
		UserID:         sub.UserID,
		SubscriptionID: &sub.ID,
		Amount:         decimal.RequireFromString("12.00"),
		Currency:       "usd",
		Method:         method,
		Ref:            payment.Ref{IntentID: "pi_" + uuid.NewString()},
	})
	require.NoError(t, err)
	return p, sub
}

func (f *fixture) succeeded(t *testing.T, method payment.Method) *payment.Payment {
	t.Helper()
	p, _ := f.pendingPayment(t, method)
	p, err := f.payments.MarkSucceeded(context.Background(), p.ID)
	require.NoError(t, err)
	return p
}

func TestPayment_Predicates(t *testing.T) {
	t.Parallel()

	p := &payment.Payment{Status: payment.StatusProcessing, Method: payment.MethodStripe}
	assert.True(t, p.IsPending())
	assert.False(t, p.IsSuccessful())
	assert.False(t, p.CanBeRefunded())

	p.Status = payment.StatusSucceeded
	assert.True(t, p.IsSuccessful())
	assert.True(t, p.CanBeRefunded())

	p.Method = payment.MethodPayPal
	assert.False(t, p.CanBeRefunded())

	r := &payment.Refund{Amount: decimal.RequireFromString("5")}
	assert.True(t, r.IsPartial(&payment.Payment{Amount: decimal.RequireFromString("12")}))
	assert.False(t, r.IsPartial(&payment.Payment{Amount: decimal.RequireFromString("5.00")}))
}

func TestService_Create(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	p, err := f.payments.Create(ctx, payment.CreateParams{
		UserID:   uuid.New(),
		Amount:   decimal.RequireFromString("9.999"),
		Currency: "eur",
		Method:   payment.MethodPaddle,
		Metadata: map[string]any{"source": "checkout"},
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, "10.00", p.Amount.StringFixed(2))
	assert.Equal(t, "EUR", p.Currency)
	assert.Nil(t, p.ProcessedAt)

	tests := []struct {
		name   string
		params payment.CreateParams
		want   error
	}{
		{"zero amount", payment.CreateParams{Amount: decimal.Zero, Currency: "USD", Method: payment.MethodStripe}, payment.ErrInvalidAmount},
		{"bad currency", payment.CreateParams{Amount: decimal.NewFromInt(1), Currency: "dollars", Method: payment.MethodStripe}, payment.ErrInvalidCurrency},
		{"bad method", payment.CreateParams{Amount: decimal.NewFromInt(1), Currency: "USD", Method: "cash"}, payment.ErrInvalidMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := f.payments.Create(ctx, tt.params)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestService_MarkSucceeded_ActivatesSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p, sub := f.pendingPayment(t, payment.MethodStripe)

	_, err := f.payments.MarkProcessing(ctx, p.ID)
	require.NoError(t, err)

	p, err = f.payments.MarkSucceeded(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, p.Status)
	require.NotNil(t, p.ProcessedAt)
	assert.Equal(t, f.clock.Now(), *p.ProcessedAt)

	m, err := f.subs.Membership(ctx, sub.UserID)
	require.NoError(t, err)
	assert.True(t, m.IsActive)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 30), m.Subscription.EndDate)

	trail, err := f.subs.AuditTrail(ctx, sub.ID)
	require.NoError(t, err)
	active := 0
	for _, e := range trail {
		if e.Action == subscription.ActionActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	// A repeated success notice does not extend the subscription again.
	_, err = f.payments.MarkSucceeded(ctx, p.ID)
	require.NoError(t, err)
	again, err := f.subs.Membership(ctx, sub.UserID)
	require.NoError(t, err)
	assert.Equal(t, m.Subscription.EndDate, again.Subscription.EndDate)
}

func TestService_MarkFailed_RecordsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p, sub := f.pendingPayment(t, payment.MethodStripe)

	p, err := f.payments.MarkFailed(ctx, p.ID, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, "card_declined", p.Metadata["failure_reason"])
	assert.NotNil(t, p.ProcessedAt)

	got, err := f.subs.Get(ctx, sub.UserID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPending, got.Status)

	history, err := f.subs.History(ctx, sub.UserID)
	require.NoError(t, err)
	assert.Equal(t, subscription.ActionPaymentFailed, history[0].Action)

	_, err = f.payments.MarkSucceeded(ctx, p.ID)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestService_BridgeFailureRollsBack(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	payments := payment.NewService(st, st, failingBridge{},
		payment.WithLogger(logger.Discard()),
	)
	ctx := context.Background()
	subID := uuid.New()

	p, err := payments.Create(ctx, payment.CreateParams{
		UserID:         uuid.New(),
		SubscriptionID: &subID,
		Amount:         decimal.NewFromInt(12),
		Currency:       "USD",
		Method:         payment.MethodStripe,
	})
	require.NoError(t, err)

	_, err = payments.MarkSucceeded(ctx, p.ID)
	require.Error(t, err)

	stored, err := payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, stored.Status)
	assert.Nil(t, stored.ProcessedAt)
}

type failingBridge struct{}

func (failingBridge) ActivateFromPayment(context.Context, uuid.UUID, subscription.PaymentRef) error {
	return errors.New("subscription store unavailable")
}

func (failingBridge) RecordPaymentFailure(context.Context, uuid.UUID, subscription.PaymentRef) error {
	return errors.New("subscription store unavailable")
}

func TestService_Attach(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.pendingPayment(t, payment.MethodStripe)

	p, err := f.payments.Attach(ctx, p.ID, payment.Ref{SessionID: "cs_1", CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", p.SessionID)
	assert.Equal(t, "cus_1", p.CustomerID)

	found, err := f.payments.FindByProviderRef(ctx, payment.Ref{SessionID: "cs_1"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	_, err = f.payments.FindByProviderRef(ctx, payment.Ref{CustomerID: "cus_1"})
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}

func TestService_Attempts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.pendingPayment(t, payment.MethodStripe)

	_, err := f.payments.RecordAttempt(ctx, payment.AttemptParams{PaymentID: p.ID, ChargeID: "ch_1", Status: payment.StatusFailed, ErrorMessage: "insufficient_funds"})
	require.NoError(t, err)
	_, err = f.payments.RecordAttempt(ctx, payment.AttemptParams{PaymentID: p.ID, ChargeID: "ch_2", Status: payment.StatusSucceeded})
	require.NoError(t, err)

	attempts, err := f.payments.Attempts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "ch_1", attempts[0].ChargeID)
	assert.Equal(t, "insufficient_funds", attempts[0].ErrorMessage)

	_, err = f.payments.RecordAttempt(ctx, payment.AttemptParams{PaymentID: uuid.New(), Status: payment.StatusFailed})
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}

func TestService_CleanupFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	failed, _ := f.pendingPayment(t, payment.MethodStripe)
	_, err := f.payments.MarkFailed(ctx, failed.ID, "expired_card")
	require.NoError(t, err)
	cancelled, _ := f.pendingPayment(t, payment.MethodStripe)
	_, err = f.payments.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	ok := f.succeeded(t, payment.MethodStripe)

	n, err := f.payments.CleanupFailed(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "inside retention window")

	f.clock.Advance(91 * 24 * time.Hour)
	recent, _ := f.pendingPayment(t, payment.MethodStripe)
	_, err = f.payments.MarkFailed(ctx, recent.ID, "")
	require.NoError(t, err)

	n, err = f.payments.CleanupFailed(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.payments.Get(ctx, failed.ID)
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
	_, err = f.payments.Get(ctx, ok.ID)
	assert.NoError(t, err)
	_, err = f.payments.Get(ctx, recent.ID)
	assert.NoError(t, err)
}
