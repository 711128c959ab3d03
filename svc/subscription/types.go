package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the persisted lifecycle state of a Subscription.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusCanceled Status = "canceled"
)

func (s Status) Name() string { return string(s) }

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// Action tags a history entry.
type Action string

const (
	ActionCreated       Action = "created"
	ActionActive        Action = "active"
	ActionRenewed       Action = "renewed"
	ActionCanceled      Action = "canceled"
	ActionExpired       Action = "expired"
	ActionPaymentFailed Action = "payment_failed"
	ActionPinnedPost    Action = "pinned_post"
	ActionUnpinnedPost  Action = "unpinned_post"
	// ActionCancel marks a cancellation requested by the user, as opposed to
	// ActionCanceled which the billing provider triggers.
	ActionCancel Action = "cancel"
)

// Initiator identifies who requested a cancellation.
type Initiator string

const (
	InitiatorUser     Initiator = "user"
	InitiatorProvider Initiator = "provider"
	InitiatorAdmin    Initiator = "admin"
)

// DefaultDurationDays applies to plans created without an explicit duration.
const DefaultDurationDays = 30

// Plan is a catalog entry. Only IsActive changes after creation.
type Plan struct {
	ID              uuid.UUID
	Name            string
	Price           decimal.Decimal
	DurationDays    int
	ProviderPriceID string
	Features        map[string]bool
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p *Plan) HasFeature(name string) bool {
	return p != nil && p.Features[name]
}

// Subscription is the single subscription a user may hold.
type Subscription struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	PlanID                 *uuid.UUID // nil until the plan is chosen
	Status                 Status
	StartDate              time.Time
	EndDate                time.Time
	ProviderSubscriptionID string
	AutoRenew              bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsActiveAt reports whether the subscription grants entitlements at now.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s != nil && s.Status == StatusActive && s.EndDate.After(now)
}

// DaysRemainingAt returns whole days left, or 0 when not active.
func (s *Subscription) DaysRemainingAt(now time.Time) int {
	if !s.IsActiveAt(now) {
		return 0
	}
	return int(s.EndDate.Sub(now).Hours() / 24)
}

// PostStatus mirrors the content platform's post states.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPublished PostStatus = "published"
)

// Post is the read-only projection of a post owned by the content platform.
type Post struct {
	ID       uuid.UUID
	AuthorID uuid.UUID
	Title    string
	Status   PostStatus
}

// PinnedPost is the single post a subscriber has pinned to the featured list.
type PinnedPost struct {
	UserID    uuid.UUID
	PostID    uuid.UUID
	PostTitle string
	PinnedAt  time.Time
}

// HistoryEntry is an append-only ledger row.
type HistoryEntry struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	Action         Action
	Description    string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// Membership is the subscription state of a user as shown to that user.
type Membership struct {
	Subscription  *Subscription // nil when the user never subscribed
	Plan          *Plan
	IsActive      bool
	DaysRemaining int
	PinnedPost    *PinnedPost
}

// Entitlement explains a pin decision.
type Entitlement struct {
	PostID             uuid.UUID
	PostExists         bool
	PostPublished      bool
	IsOwnPost          bool
	HasSubscription    bool
	SubscriptionActive bool
	Allowed            bool
	// Reason is the first failed rule, nil when Allowed.
	Reason error
}

// PaymentRef links a history entry to the payment that caused it.
type PaymentRef struct {
	PaymentID uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Reason    string
}
