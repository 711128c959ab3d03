package api

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/pinboard/svc/payment"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

type planView struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"duration_days"`
	Features     []string        `json:"features"`
	IsActive     bool            `json:"is_active"`
}

func newPlanView(p *subscription.Plan) *planView {
	if p == nil {
		return nil
	}
	features := make([]string, 0, len(p.Features))
	for name, on := range p.Features {
		if on {
			features = append(features, name)
		}
	}
	slices.Sort(features)
	return &planView{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price,
		DurationDays: p.DurationDays,
		Features:     features,
		IsActive:     p.IsActive,
	}
}

type subscriptionView struct {
	ID        uuid.UUID           `json:"id"`
	PlanID    *uuid.UUID          `json:"plan_id,omitempty"`
	Status    subscription.Status `json:"status"`
	StartDate *time.Time          `json:"start_date,omitempty"`
	EndDate   *time.Time          `json:"end_date,omitempty"`
	AutoRenew bool                `json:"auto_renew"`
	CreatedAt time.Time           `json:"created_at"`
}

func newSubscriptionView(s *subscription.Subscription) *subscriptionView {
	if s == nil {
		return nil
	}
	return &subscriptionView{
		ID:        s.ID,
		PlanID:    s.PlanID,
		Status:    s.Status,
		StartDate: timeOrNil(s.StartDate),
		EndDate:   timeOrNil(s.EndDate),
		AutoRenew: s.AutoRenew,
		CreatedAt: s.CreatedAt,
	}
}

type pinView struct {
	PostID    uuid.UUID `json:"post_id"`
	PostTitle string    `json:"post_title"`
	UserID    uuid.UUID `json:"user_id"`
	PinnedAt  time.Time `json:"pinned_at"`
}

func newPinView(p *subscription.PinnedPost) *pinView {
	if p == nil {
		return nil
	}
	return &pinView{PostID: p.PostID, PostTitle: p.PostTitle, UserID: p.UserID, PinnedAt: p.PinnedAt}
}

type membershipView struct {
	Subscription  *subscriptionView `json:"subscription"`
	Plan          *planView         `json:"plan,omitempty"`
	IsActive      bool              `json:"is_active"`
	DaysRemaining int               `json:"days_remaining"`
	PinnedPost    *pinView          `json:"pinned_post"`
}

func newMembershipView(m subscription.Membership) membershipView {
	return membershipView{
		Subscription:  newSubscriptionView(m.Subscription),
		Plan:          newPlanView(m.Plan),
		IsActive:      m.IsActive,
		DaysRemaining: m.DaysRemaining,
		PinnedPost:    newPinView(m.PinnedPost),
	}
}

type historyView struct {
	ID          uuid.UUID           `json:"id"`
	Action      subscription.Action `json:"action"`
	Description string              `json:"description"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

type eligibilityView struct {
	PostID             uuid.UUID `json:"post_id"`
	Allowed            bool      `json:"allowed"`
	PostExists         bool      `json:"post_exists"`
	PostPublished      bool      `json:"post_published"`
	IsOwnPost          bool      `json:"is_own_post"`
	HasSubscription    bool      `json:"has_subscription"`
	SubscriptionActive bool      `json:"subscription_active"`
	Reason             string    `json:"reason,omitempty"`
}

func newEligibilityView(e subscription.Entitlement) eligibilityView {
	v := eligibilityView{
		PostID:             e.PostID,
		Allowed:            e.Allowed,
		PostExists:         e.PostExists,
		PostPublished:      e.PostPublished,
		IsOwnPost:          e.IsOwnPost,
		HasSubscription:    e.HasSubscription,
		SubscriptionActive: e.SubscriptionActive,
	}
	if e.Reason != nil {
		v.Reason = e.Reason.Error()
	}
	return v
}

type refundView struct {
	ID               uuid.UUID       `json:"id"`
	PaymentID        uuid.UUID       `json:"payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
	Status           payment.Status  `json:"status"`
	ProviderRefundID string          `json:"provider_refund_id,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func newRefundView(r *payment.Refund) refundView {
	return refundView{
		ID:               r.ID,
		PaymentID:        r.PaymentID,
		Amount:           r.Amount,
		Reason:           r.Reason,
		Status:           r.Status,
		ProviderRefundID: r.ProviderRefundID,
		FailureReason:    r.FailureReason,
		ProcessedAt:      r.ProcessedAt,
		CreatedAt:        r.CreatedAt,
	}
}

type attemptView struct {
	ID           uuid.UUID      `json:"id"`
	ChargeID     string         `json:"charge_id,omitempty"`
	Status       payment.Status `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type paymentView struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	SubscriptionID *uuid.UUID      `json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         payment.Status  `json:"status"`
	Method         payment.Method  `json:"method"`
	Description    string          `json:"description,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Attempts       []attemptView   `json:"attempts,omitempty"`
	Refunds        []refundView    `json:"refunds,omitempty"`
}

func newPaymentView(p *payment.Payment) paymentView {
	return paymentView{
		ID:             p.ID,
		UserID:         p.UserID,
		SubscriptionID: p.SubscriptionID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         p.Status,
		Method:         p.Method,
		Description:    p.Description,
		SessionID:      p.SessionID,
		ProcessedAt:    p.ProcessedAt,
		CreatedAt:      p.CreatedAt,
	}
}

type checkoutView struct {
	Subscription *subscriptionView `json:"subscription"`
	Payment      paymentView       `json:"payment"`
	CheckoutURL  string            `json:"checkout_url,omitempty"`
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
