package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transactor runs fn atomically. Implementations carry the transaction in the
// context and let nested calls join it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type PlanStore interface {
	// ListPlans returns plans ordered by price.
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	// GetPlan returns ErrPlanNotFound if no plan exists.
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	// UpsertPlan inserts a plan or updates the one with the same ProviderPriceID,
	// in which case plan.ID and plan.CreatedAt are replaced by the stored values.
	UpsertPlan(ctx context.Context, plan *Plan) error
	SetPlanActive(ctx context.Context, id uuid.UUID, active bool) error
}

type SubscriptionStore interface {
	// GetSubscription returns ErrSubscriptionNotFound if no row exists.
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// GetSubscriptionForUpdate locks the row until the surrounding transaction ends.
	GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	GetSubscriptionByProviderRef(ctx context.Context, ref string) (*Subscription, error)
	// CreateSubscription returns ErrSubscriptionExists when the user already has one.
	CreateSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	// DeleteSubscription removes the row together with its history and the user's pinned post.
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
	// ListDue returns active subscriptions with end_date at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Subscription, error)
}

type PinStore interface {
	// GetPin returns ErrPinNotFound if the user has no pinned post.
	GetPin(ctx context.Context, userID uuid.UUID) (*PinnedPost, error)
	// CreatePin must reject the row unless the user holds an active subscription
	// at pin.PinnedAt and authored the post (ErrNotEntitled, ErrNotPostAuthor),
	// and return ErrPinConflict when the user already has a pin.
	CreatePin(ctx context.Context, pin *PinnedPost) error
	DeletePin(ctx context.Context, userID uuid.UUID) error
	// ListFeatured returns pins of users active at now on published posts, oldest pin first.
	ListFeatured(ctx context.Context, now time.Time) ([]PinnedPost, error)
}

type HistoryStore interface {
	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	// ListHistory returns entries in the order they were appended.
	ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]HistoryEntry, error)
}

// Store is the persistence required by Service.
type Store interface {
	PlanStore
	SubscriptionStore
	PinStore
	HistoryStore
}

// PostProvider reads posts from the content platform.
type PostProvider interface {
	// GetPost returns ErrPostNotFound if the post does not exist.
	GetPost(ctx context.Context, id uuid.UUID) (*Post, error)
}
