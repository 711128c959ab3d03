package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/pkg/metrics"
	"github.com/dmitrymomot/pinboard/pkg/statemachine"
)

// Service defines the public interface for subscriptions, pinned posts and the plan catalog.
type Service interface {
	// Lifecycle
	CreatePending(ctx context.Context, userID, planID uuid.UUID) (*Subscription, error)
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	Membership(ctx context.Context, userID uuid.UUID) (Membership, error)
	Activate(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error)
	Extend(ctx context.Context, subscriptionID uuid.UUID, days int) (*Subscription, error)
	Cancel(ctx context.Context, userID uuid.UUID, by Initiator) (*Subscription, error)
	CancelByProviderRef(ctx context.Context, ref string) (*Subscription, error)
	Expire(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error)
	ExpireDue(ctx context.Context, limit int) (int, error)
	DeleteSubscription(ctx context.Context, userID uuid.UUID) error
	LinkProviderSubscription(ctx context.Context, subscriptionID uuid.UUID, ref string) error

	// Payment outcomes
	ActivateFromPayment(ctx context.Context, subscriptionID uuid.UUID, ref PaymentRef) error
	RecordPaymentFailure(ctx context.Context, subscriptionID uuid.UUID, ref PaymentRef) error

	// Pinned posts
	CanPin(ctx context.Context, userID, postID uuid.UUID) (Entitlement, error)
	Pin(ctx context.Context, userID, postID uuid.UUID) (*PinnedPost, error)
	Unpin(ctx context.Context, userID uuid.UUID) error
	PinnedPost(ctx context.Context, userID uuid.UUID) (*PinnedPost, error)
	IsPinned(ctx context.Context, userID, postID uuid.UUID) (bool, error)
	FeaturedPosts(ctx context.Context) ([]PinnedPost, error)

	// History
	History(ctx context.Context, userID uuid.UUID) ([]HistoryEntry, error)
	AuditTrail(ctx context.Context, subscriptionID uuid.UUID) ([]HistoryEntry, error)

	// Plan catalog
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error)
	UpsertPlan(ctx context.Context, plan *Plan) error
	SetPlanActive(ctx context.Context, planID uuid.UUID, active bool) error
}

type service struct {
	store   Store
	posts   PostProvider
	tx      Transactor
	machine *statemachine.Table
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewService creates a subscription Service.
// Panics if a required dependency is nil.
func NewService(store Store, posts PostProvider, tx Transactor, opts ...ServiceOption) Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if posts == nil {
		panic("subscription: PostProvider is required")
	}
	if tx == nil {
		panic("subscription: Transactor is required")
	}

	s := &service{
		store: store,
		posts: posts,
		tx:    tx,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscription"))
	s.machine = s.newMachine()

	return s
}

func (s *service) CreatePending(ctx context.Context, userID, planID uuid.UUID) (*Subscription, error) {
	var (
		sub          *Subscription
		reopenedFrom Status
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		plan, err := s.store.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if !plan.IsActive {
			return ErrPlanInactive
		}

		now := s.now()
		existing, err := s.store.GetSubscriptionByUser(ctx, userID)
		switch {
		case err == nil:
			if existing, err = s.store.GetSubscriptionForUpdate(ctx, existing.ID); err != nil {
				return err
			}
			if existing.IsActiveAt(now) {
				return ErrSubscriptionExists
			}
			sub = existing
			if existing.Status == StatusPending {
				// Checkout restarted: only the plan choice changes.
				existing.PlanID = &plan.ID
				existing.UpdatedAt = now
				return s.store.UpdateSubscription(ctx, existing)
			}
			reopenedFrom = existing.Status
			c := &change{event: EventReopen, sub: existing, plan: plan, now: now}
			if _, err := s.machine.Fire(ctx, existing.Status, EventReopen, c); err != nil {
				if statemachine.IsNoTransitionAvailableError(err) || statemachine.IsTransitionRejectedError(err) {
					return fmt.Errorf("%w: cannot reopen a %s subscription", ErrInvalidState, existing.Status)
				}
				return err
			}
			return nil
		case !errors.Is(err, ErrSubscriptionNotFound):
			return err
		}

		sub = &Subscription{
			ID:        uuid.New(),
			UserID:    userID,
			PlanID:    &plan.ID,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		return s.store.AppendHistory(ctx, &HistoryEntry{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			Action:         ActionCreated,
			Description:    fmt.Sprintf("Subscription created for plan %q", plan.Name),
			Metadata:       map[string]any{"plan_id": plan.ID.String(), "to_status": string(StatusPending)},
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, apperr.Internal("subscription: create pending", err)
	}

	if reopenedFrom != "" {
		s.metrics.SubscriptionTransition(string(reopenedFrom), string(StatusPending))
	}
	s.log.InfoContext(ctx, "pending subscription ready",
		logger.SubscriptionID(sub.ID), logger.UserID(userID), slog.String("plan_id", planID.String()))
	return sub, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("subscription: get", err)
	}
	return sub, nil
}

func (s *service) Membership(ctx context.Context, userID uuid.UUID) (Membership, error) {
	var m Membership

	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return m, nil
	}
	if err != nil {
		return m, apperr.Internal("subscription: membership", err)
	}

	now := s.now()
	m.Subscription = sub
	m.IsActive = sub.IsActiveAt(now)
	m.DaysRemaining = sub.DaysRemainingAt(now)

	if sub.PlanID != nil {
		plan, err := s.store.GetPlan(ctx, *sub.PlanID)
		if err != nil && !errors.Is(err, ErrPlanNotFound) {
			return m, apperr.Internal("subscription: membership plan", err)
		}
		m.Plan = plan
	}

	pin, err := s.store.GetPin(ctx, userID)
	if err != nil && !errors.Is(err, ErrPinNotFound) {
		return m, apperr.Internal("subscription: membership pin", err)
	}
	m.PinnedPost = pin

	return m, nil
}

func (s *service) Activate(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	return s.transition(ctx, subscriptionID, EventActivate, func(ctx context.Context, c *change) error {
		plan, err := s.planOf(ctx, c.sub)
		c.plan = plan
		return err
	})
}

func (s *service) Extend(ctx context.Context, subscriptionID uuid.UUID, days int) (*Subscription, error) {
	if days <= 0 {
		return nil, ErrInvalidDays
	}
	return s.transition(ctx, subscriptionID, EventExtend, func(_ context.Context, c *change) error {
		c.days = days
		return nil
	})
}

func (s *service) Cancel(ctx context.Context, userID uuid.UUID, by Initiator) (*Subscription, error) {
	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("subscription: cancel", err)
	}
	return s.transition(ctx, sub.ID, EventCancel, func(_ context.Context, c *change) error {
		c.initiator = by
		return nil
	})
}

func (s *service) CancelByProviderRef(ctx context.Context, ref string) (*Subscription, error) {
	if ref == "" {
		return nil, ErrSubscriptionNotFound
	}
	sub, err := s.store.GetSubscriptionByProviderRef(ctx, ref)
	if err != nil {
		return nil, apperr.Internal("subscription: cancel by provider ref", err)
	}
	return s.transition(ctx, sub.ID, EventCancel, func(_ context.Context, c *change) error {
		c.initiator = InitiatorProvider
		c.with("provider_subscription_id", ref)
		return nil
	})
}

func (s *service) Expire(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	return s.transition(ctx, subscriptionID, EventExpire, func(_ context.Context, c *change) error {
		c.force = true
		return nil
	})
}

// ExpireDue expires up to limit active subscriptions whose period has ended.
// Rows renewed between listing and locking are skipped.
func (s *service) ExpireDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	due, err := s.store.ListDue(ctx, s.now(), limit)
	if err != nil {
		return 0, apperr.Internal("subscription: list due", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := s.transition(ctx, sub.ID, EventExpire, nil)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrSubscriptionNotFound):
			// Renewed, canceled or deleted meanwhile.
		default:
			s.log.ErrorContext(ctx, "failed to expire subscription", logger.SubscriptionID(sub.ID), logger.Error(err))
			errs = append(errs, err)
		}
	}

	return expired, errors.Join(errs...)
}

func (s *service) DeleteSubscription(ctx context.Context, userID uuid.UUID) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sub, err := s.store.GetSubscriptionByUser(ctx, userID)
		if err != nil {
			return err
		}
		return s.store.DeleteSubscription(ctx, sub.ID)
	})
	if err != nil {
		return apperr.Internal("subscription: delete", err)
	}

	s.log.InfoContext(ctx, "subscription deleted", logger.UserID(userID))
	return nil
}

// LinkProviderSubscription stores the billing provider's subscription reference.
// A linked subscription renews automatically until canceled.
func (s *service) LinkProviderSubscription(ctx context.Context, subscriptionID uuid.UUID, ref string) error {
	if ref == "" {
		return nil
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sub, err := s.store.GetSubscriptionForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.ProviderSubscriptionID == ref {
			return nil
		}
		sub.ProviderSubscriptionID = ref
		sub.AutoRenew = sub.Status != StatusCanceled && sub.Status != StatusExpired
		sub.UpdatedAt = s.now()
		return s.store.UpdateSubscription(ctx, sub)
	})
	return apperr.Internal("subscription: link provider ref", err)
}

// ActivateFromPayment grants the period bought by a payment: a subscription
// that is still running is extended by the plan duration, anything else starts
// a fresh period.
func (s *service) ActivateFromPayment(ctx context.Context, subscriptionID uuid.UUID, ref PaymentRef) error {
	_, err := s.transition(ctx, subscriptionID, EventActivate, func(ctx context.Context, c *change) error {
		plan, err := s.planOf(ctx, c.sub)
		if err != nil {
			return err
		}
		c.plan = plan
		c.with("payment_id", ref.PaymentID.String())
		if !ref.Amount.IsZero() {
			c.with("amount", ref.Amount.StringFixed(2))
			c.with("currency", ref.Currency)
		}
		if c.sub.IsActiveAt(c.now) {
			c.event = EventExtend
			c.days = plan.DurationDays
			if c.days <= 0 {
				c.days = DefaultDurationDays
			}
		}
		return nil
	})
	return err
}

func (s *service) RecordPaymentFailure(ctx context.Context, subscriptionID uuid.UUID, ref PaymentRef) error {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return apperr.Internal("subscription: record payment failure", err)
	}

	desc := "Payment failed"
	if ref.Reason != "" {
		desc = "Payment failed: " + ref.Reason
	}
	err = s.store.AppendHistory(ctx, &HistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Action:         ActionPaymentFailed,
		Description:    desc,
		Metadata: map[string]any{
			"payment_id": ref.PaymentID.String(),
			"reason":     ref.Reason,
		},
		CreatedAt: s.now(),
	})
	if err != nil {
		return apperr.Internal("subscription: record payment failure", err)
	}

	s.log.WarnContext(ctx, "payment failed for subscription",
		logger.SubscriptionID(sub.ID), logger.PaymentID(ref.PaymentID), slog.String("reason", ref.Reason))
	return nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID) ([]HistoryEntry, error) {
	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("subscription: history", err)
	}
	entries, err := s.store.ListHistory(ctx, sub.ID)
	if err != nil {
		return nil, apperr.Internal("subscription: history", err)
	}
	slices.Reverse(entries)
	return entries, nil
}

func (s *service) AuditTrail(ctx context.Context, subscriptionID uuid.UUID) ([]HistoryEntry, error) {
	entries, err := s.store.ListHistory(ctx, subscriptionID)
	if err != nil {
		return nil, apperr.Internal("subscription: audit trail", err)
	}
	return entries, nil
}

type prepareFunc func(ctx context.Context, c *change) error

// transition locks the subscription, fires event and lets the transition
// actions persist the result, all in one transaction.
func (s *service) transition(ctx context.Context, subscriptionID uuid.UUID, event statemachine.StringEvent, prepare prepareFunc) (*Subscription, error) {
	var (
		sub  *Subscription
		from Status
		c    = &change{event: event}
	)

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		sub, err = s.store.GetSubscriptionForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}
		from = sub.Status
		c.sub = sub
		c.now = s.now()

		if prepare != nil {
			if err := prepare(ctx, c); err != nil {
				return err
			}
		}

		if _, err := s.machine.Fire(ctx, from, c.event, c); err != nil {
			if statemachine.IsNoTransitionAvailableError(err) || statemachine.IsTransitionRejectedError(err) {
				return fmt.Errorf("%w: cannot %s a %s subscription", ErrInvalidState, c.event, from)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal("subscription: "+string(event), err)
	}

	if sub.Status != from {
		s.metrics.SubscriptionTransition(string(from), string(sub.Status))
	}
	if _, ok := c.meta["unpinned_post_id"]; ok {
		s.metrics.PinChange("unpin")
	}
	if c.action != "" {
		s.log.InfoContext(ctx, "subscription transition",
			logger.SubscriptionID(sub.ID),
			logger.UserID(sub.UserID),
			logger.Transition(string(from), string(sub.Status)),
			slog.String("action", string(c.action)),
		)
	}

	return sub, nil
}

func (s *service) planOf(ctx context.Context, sub *Subscription) (*Plan, error) {
	if sub.PlanID == nil {
		return nil, ErrPlanRequired
	}
	return s.store.GetPlan(ctx, *sub.PlanID)
}
