package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/store/memstore"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
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
	svc   subscription.Service
	store *memstore.Store
	clock *clock
	plan  subscription.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memstore.New()
	clk := newClock()
	svc := subscription.NewService(st, st, st,
		subscription.WithClock(clk.Now),
		subscription.WithLogger(logger.Discard()),
	)

	plan := subscription.DefaultPlan()
	require.NoError(t, svc.UpsertPlan(context.Background(), &plan))

	return &fixture{svc: svc, store: st, clock: clk, plan: plan}
}

func (f *fixture) post(t *testing.T, author uuid.UUID, title string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.store.PutPost(context.Background(), subscription.Post{
		ID:       id,
		AuthorID: author,
		Title:    title,
		Status:   subscription.PostPublished,
	}))
	return id
}

func (f *fixture) activeUser(t *testing.T) (uuid.UUID, *subscription.Subscription) {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()
	sub, err := f.svc.CreatePending(ctx, userID, f.plan.ID)
	require.NoError(t, err)
	sub, err = f.svc.Activate(ctx, sub.ID)
	require.NoError(t, err)
	return userID, sub
}

func (f *fixture) actions(t *testing.T, subID uuid.UUID) []subscription.Action {
	t.Helper()
	entries, err := f.svc.AuditTrail(context.Background(), subID)
	require.NoError(t, err)
	out := make([]subscription.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func countAction(actions []subscription.Action, a subscription.Action) int {
	n := 0
	for _, x := range actions {
		if x == a {
			n++
		}
	}
	return n
}

func TestService_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("create pending then activate", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		userID := uuid.New()

		sub, err := f.svc.CreatePending(ctx, userID, f.plan.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPending, sub.Status)
		assert.False(t, sub.IsActiveAt(f.clock.Now()))

		sub, err = f.svc.Activate(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, f.clock.Now(), sub.StartDate)
		assert.Equal(t, f.clock.Now().AddDate(0, 0, 30), sub.EndDate)

		assert.Equal(t, []subscription.Action{subscription.ActionCreated, subscription.ActionActive}, f.actions(t, sub.ID))
	})

	t.Run("create pending is repeatable while not active", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		userID := uuid.New()

		first, err := f.svc.CreatePending(ctx, userID, f.plan.ID)
		require.NoError(t, err)
		second, err := f.svc.CreatePending(ctx, userID, f.plan.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		_, err = f.svc.Activate(ctx, first.ID)
		require.NoError(t, err)
		_, err = f.svc.CreatePending(ctx, userID, f.plan.ID)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionExists)
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("create pending rejects retired plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		require.NoError(t, f.svc.SetPlanActive(ctx, f.plan.ID, false))

		_, err := f.svc.CreatePending(ctx, uuid.New(), f.plan.ID)
		assert.ErrorIs(t, err, subscription.ErrPlanInactive)
	})

	t.Run("canceled subscription is reopened for the next checkout", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		userID, sub := f.activeUser(t)

		_, err := f.svc.Cancel(ctx, userID, subscription.InitiatorUser)
		require.NoError(t, err)

		reopened, err := f.svc.CreatePending(ctx, userID, f.plan.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, reopened.ID)
		assert.Equal(t, subscription.StatusPending, reopened.Status)
		assert.True(t, reopened.StartDate.IsZero())
		assert.True(t, reopened.EndDate.IsZero())
		assert.False(t, reopened.AutoRenew)

		m, err := f.svc.Membership(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, m.Subscription)
		assert.Equal(t, subscription.StatusPending, m.Subscription.Status)

		actions := f.actions(t, sub.ID)
		assert.Equal(t, subscription.ActionCreated, actions[len(actions)-1])
		assert.Equal(t, 2, countAction(actions, subscription.ActionCreated))
	})

	t.Run("lapsed active subscription is reopened before the sweep runs", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		userID, sub := f.activeUser(t)

		f.clock.Advance(31 * 24 * time.Hour)
		reopened, err := f.svc.CreatePending(ctx, userID, f.plan.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, reopened.ID)
		assert.Equal(t, subscription.StatusPending, reopened.Status)

		actions := f.actions(t, sub.ID)
		assert.Equal(t, subscription.ActionCreated, actions[len(actions)-1])
	})

	t.Run("extend active keeps start date", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		_, sub := f.activeUser(t)
		start, end := sub.StartDate, sub.EndDate

		f.clock.Advance(24 * time.Hour)
		sub, err := f.svc.Extend(ctx, sub.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, start, sub.StartDate)
		assert.Equal(t, end.AddDate(0, 0, 10), sub.EndDate)
		assert.Equal(t, subscription.ActionRenewed, f.actions(t, sub.ID)[2])
	})

	t.Run("extend expired starts fresh period", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		_, sub := f.activeUser(t)

		_, err := f.svc.Expire(ctx, sub.ID)
		require.NoError(t, err)

		f.clock.Advance(72 * time.Hour)
		sub, err = f.svc.Extend(ctx, sub.ID, 7)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, f.clock.Now(), sub.StartDate)
		assert.Equal(t, f.clock.Now().AddDate(0, 0, 7), sub.EndDate)
	})

	t.Run("extend rejects non-positive days", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, sub := f.activeUser(t)
		_, err := f.svc.Extend(context.Background(), sub.ID, 0)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("activate without plan rolls back", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		sub := &subscription.Subscription{ID: uuid.New(), UserID: uuid.New(), Status: subscription.StatusPending}
		require.NoError(t, f.store.CreateSubscription(ctx, sub))

		_, err := f.svc.Activate(ctx, sub.ID)
		assert.ErrorIs(t, err, subscription.ErrPlanRequired)

		stored, err := f.svc.Get(ctx, sub.UserID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPending, stored.Status)
		assert.Empty(t, f.actions(t, sub.ID))
	})

	t.Run("no subscription is a not found state", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.svc.Get(context.Background(), uuid.New())
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

		m, err := f.svc.Membership(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Nil(t, m.Subscription)
		assert.False(t, m.IsActive)
	})
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("removes pin and logs unpin before cancel", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		userID, sub := f.activeUser(t)
		postID := f.post(t, userID, "Mine")
		_, err := f.svc.Pin(ctx, userID, postID)
		require.NoError(t, err)

		sub, err = f.svc.Cancel(ctx, userID, subscription.InitiatorUser)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, sub.Status)
		assert.False(t, sub.AutoRenew)

		_, err = f.svc.PinnedPost(ctx, userID)
		assert.ErrorIs(t, err, subscription.ErrPinNotFound)

		actions := f.actions(t, sub.ID)
		assert.Equal(t, []subscription.Action{
			subscription.ActionCreated,
			subscription.ActionActive,
			subscription.ActionPinnedPost,
			subscription.ActionUnpinnedPost,
			subscription.ActionCancel,
		}, actions)
	})

	t.Run("repeated cancel is a no-op", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		userID, sub := f.activeUser(t)

		_, err := f.svc.Cancel(ctx, userID, subscription.InitiatorUser)
		require.NoError(t, err)
		before := f.actions(t, sub.ID)

		again, err := f.svc.Cancel(ctx, userID, subscription.InitiatorUser)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, again.Status)
		assert.Equal(t, before, f.actions(t, sub.ID))
	})

	t.Run("expired subscription cannot be canceled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		userID, sub := f.activeUser(t)
		_, err := f.svc.Expire(ctx, sub.ID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, userID, subscription.InitiatorUser)
		assert.ErrorIs(t, err, subscription.ErrInvalidState)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("provider cancellation uses canceled tag", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		_, sub := f.activeUser(t)
		require.NoError(t, f.svc.LinkProviderSubscription(ctx, sub.ID, "sub_123"))

		sub, err := f.svc.CancelByProviderRef(ctx, "sub_123")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, sub.Status)

		actions := f.actions(t, sub.ID)
		assert.Equal(t, subscription.ActionCanceled, actions[len(actions)-1])
	})

	t.Run("unknown provider ref", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.svc.CancelByProviderRef(context.Background(), "sub_missing")
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})
}

func TestService_ExpireDue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	dueUser, due := f.activeUser(t)
	postID := f.post(t, dueUser, "Featured")
	_, err := f.svc.Pin(ctx, dueUser, postID)
	require.NoError(t, err)

	f.clock.Advance(10 * 24 * time.Hour)
	_, fresh := f.activeUser(t)

	f.clock.Advance(25 * 24 * time.Hour)
	n, err := f.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m, err := f.svc.Membership(ctx, dueUser)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, m.Subscription.Status)
	assert.Nil(t, m.PinnedPost)

	actions := f.actions(t, due.ID)
	assert.Equal(t, 1, countAction(actions, subscription.ActionUnpinnedPost))
	assert.Equal(t, subscription.ActionExpired, actions[len(actions)-1])

	still, err := f.svc.AuditTrail(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Len(t, still, 2)

	n, err = f.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep is idempotent")
}

func TestService_Expire_RequiresActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub, err := f.svc.CreatePending(context.Background(), uuid.New(), f.plan.ID)
	require.NoError(t, err)

	_, err = f.svc.Expire(context.Background(), sub.ID)
	assert.ErrorIs(t, err, subscription.ErrInvalidState)
}

func TestService_ActivateFromPayment(t *testing.T) {
	t.Parallel()

	t.Run("pending subscription becomes active with one history row", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		sub, err := f.svc.CreatePending(ctx, uuid.New(), f.plan.ID)
		require.NoError(t, err)

		paymentID := uuid.New()
		require.NoError(t, f.svc.ActivateFromPayment(ctx, sub.ID, subscription.PaymentRef{PaymentID: paymentID}))

		m, err := f.svc.Membership(ctx, sub.UserID)
		require.NoError(t, err)
		assert.True(t, m.IsActive)
		assert.Equal(t, f.clock.Now().AddDate(0, 0, f.plan.DurationDays), m.Subscription.EndDate)
		assert.Equal(t, 30, m.DaysRemaining)

		entries, err := f.svc.AuditTrail(ctx, sub.ID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, subscription.ActionActive, entries[1].Action)
		assert.Equal(t, paymentID.String(), entries[1].Metadata["payment_id"])
		assert.Equal(t, "pending", entries[1].Metadata["from_status"])
	})

	t.Run("running subscription is extended", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		_, sub := f.activeUser(t)

		f.clock.Advance(20 * 24 * time.Hour)
		require.NoError(t, f.svc.ActivateFromPayment(ctx, sub.ID, subscription.PaymentRef{PaymentID: uuid.New()}))

		m, err := f.svc.Membership(ctx, sub.UserID)
		require.NoError(t, err)
		assert.Equal(t, sub.StartDate, m.Subscription.StartDate)
		assert.Equal(t, sub.EndDate.AddDate(0, 0, 30), m.Subscription.EndDate)
	})

	t.Run("failure is logged without status change", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		sub, err := f.svc.CreatePending(ctx, uuid.New(), f.plan.ID)
		require.NoError(t, err)

		require.NoError(t, f.svc.RecordPaymentFailure(ctx, sub.ID, subscription.PaymentRef{PaymentID: uuid.New(), Reason: "card_declined"}))

		got, err := f.svc.Get(ctx, sub.UserID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPending, got.Status)

		history, err := f.svc.History(ctx, sub.UserID)
		require.NoError(t, err)
		require.NotEmpty(t, history)
		assert.Equal(t, subscription.ActionPaymentFailed, history[0].Action, "history is newest first")
		assert.Equal(t, "card_declined", history[0].Metadata["reason"])
	})
}

func TestService_DeleteSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID, sub := f.activeUser(t)
	_, err := f.svc.Pin(ctx, userID, f.post(t, userID, "Bye"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSubscription(ctx, userID))

	_, err = f.svc.Get(ctx, userID)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	_, err = f.svc.PinnedPost(ctx, userID)
	assert.ErrorIs(t, err, subscription.ErrPinNotFound)
	entries, err := f.svc.AuditTrail(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
