package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/store/memstore"
	"github.com/dmitrymomot/pinboard/svc/checkout"
	"github.com/dmitrymomot/pinboard/svc/payment"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []checkout.SessionRequest
	err      error
}

func (g *fakeGateway) Method() payment.Method { return payment.MethodStripe }

func (g *fakeGateway) CreateSession(_ context.Context, req checkout.SessionRequest) (*checkout.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &checkout.Session{
		ID:         "cs_" + req.PaymentID.String()[:8],
		URL:        "https://checkout.example/" + req.PaymentID.String(),
		CustomerID: "cus_1",
	}, nil
}

type fixture struct {
	subs     subscription.Service
	payments payment.Service
	plan     subscription.Plan
	store    *memstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memstore.New()
	log := logger.Discard()
	subs := subscription.NewService(st, st, st, subscription.WithLogger(log))
	payments := payment.NewService(st, st, subs, payment.WithLogger(log))

	plan := subscription.DefaultPlan()
	require.NoError(t, subs.UpsertPlan(context.Background(), &plan))

	return &fixture{subs: subs, payments: payments, plan: plan, store: st}
}

func (f *fixture) service(opts ...checkout.ServiceOption) checkout.Service {
	opts = append([]checkout.ServiceOption{checkout.WithLogger(logger.Discard())}, opts...)
	return checkout.NewService(f.subs, f.payments, f.store, opts...)
}

func TestNewService_PanicsOnMissingDeps(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	assert.Panics(t, func() { checkout.NewService(nil, f.payments, f.store) })
	assert.Panics(t, func() { checkout.NewService(f.subs, nil, f.store) })
	assert.Panics(t, func() { checkout.NewService(f.subs, f.payments, nil) })
}

func TestStart_WithoutGateway(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(checkout.WithMethod(payment.MethodPaddle), checkout.WithCurrency("eur"))
	userID := uuid.New()

	res, err := svc.Start(ctx, userID, f.plan.ID)
	require.NoError(t, err)
	assert.Empty(t, res.CheckoutURL)
	assert.Equal(t, subscription.StatusPending, res.Subscription.Status)

	p := res.Payment
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, payment.MethodPaddle, p.Method)
	assert.Equal(t, "EUR", p.Currency)
	assert.True(t, f.plan.Price.Equal(p.Amount))
	require.NotNil(t, p.SubscriptionID)
	assert.Equal(t, res.Subscription.ID, *p.SubscriptionID)
	assert.Equal(t, f.plan.ID.String(), p.Metadata["plan_id"])
}

func TestStart_WithGateway(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	gw := &fakeGateway{}
	svc := f.service(checkout.WithGateway(gw), checkout.WithMethod(payment.MethodPaddle))
	userID := uuid.New()

	res, err := svc.Start(ctx, userID, f.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/"+res.Payment.ID.String(), res.CheckoutURL)
	assert.Equal(t, payment.MethodStripe, res.Payment.Method)
	assert.NotEmpty(t, res.Payment.SessionID)
	assert.Equal(t, "cus_1", res.Payment.CustomerID)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, res.Payment.ID, req.PaymentID)
	assert.Equal(t, userID, req.UserID)
	assert.Equal(t, f.plan.Name, req.PlanName)
	assert.True(t, decimal.RequireFromString("12.00").Equal(req.Amount))

	stored, err := f.payments.FindByProviderRef(ctx, payment.Ref{SessionID: res.Payment.SessionID})
	require.NoError(t, err)
	assert.Equal(t, res.Payment.ID, stored.ID)
}

func TestStart_GatewayFailureCancelsPayment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(checkout.WithGateway(&fakeGateway{err: errors.New("connection reset")}))
	userID := uuid.New()

	_, err := svc.Start(ctx, userID, f.plan.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, checkout.ErrGatewayFailed)
	assert.ErrorIs(t, err, apperr.ErrExternal)

	payments, err := svc.Payments(ctx, userID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, payment.StatusCancelled, payments[0].Status)
}

func TestStart_Rejections(t *testing.T) {
	t.Parallel()

	t.Run("active subscriber", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		svc := f.service()
		userID := uuid.New()

		res, err := svc.Start(ctx, userID, f.plan.ID)
		require.NoError(t, err)
		_, err = f.subs.Activate(ctx, res.Subscription.ID)
		require.NoError(t, err)

		_, err = svc.Start(ctx, userID, f.plan.ID)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionExists)

		payments, err := svc.Payments(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, payments, 1)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.service().Start(context.Background(), uuid.New(), uuid.New())
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestStart_PaidCheckoutActivates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	res, err := f.service().Start(ctx, userID, f.plan.ID)
	require.NoError(t, err)
	_, err = f.payments.MarkSucceeded(ctx, res.Payment.ID)
	require.NoError(t, err)

	m, err := f.subs.Membership(ctx, userID)
	require.NoError(t, err)
	assert.True(t, m.IsActive)
}

func TestPayments_Ownership(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service()
	owner, stranger := uuid.New(), uuid.New()

	res, err := svc.Start(ctx, owner, f.plan.ID)
	require.NoError(t, err)
	id := res.Payment.ID

	_, err = svc.Payment(ctx, stranger, id)
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
	_, err = svc.Cancel(ctx, stranger, id)
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)

	list, err := svc.Payments(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, list)

	p, err := svc.Payment(ctx, owner, id)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)

	p, err = svc.Cancel(ctx, owner, id)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, p.Status)

	p, err = svc.Cancel(ctx, owner, id)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCancelled, p.Status)
}

func TestCancel_SettledPaymentConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service()
	userID := uuid.New()

	res, err := svc.Start(ctx, userID, f.plan.ID)
	require.NoError(t, err)
	_, err = f.payments.MarkSucceeded(ctx, res.Payment.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, userID, res.Payment.ID)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}
