package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/svc/subscription"
)

func clonePlan(p subscription.Plan) *subscription.Plan {
	p.Features = maps.Clone(p.Features)
	return &p
}

func cloneSub(sub subscription.Subscription) *subscription.Subscription {
	sub.PlanID = clonePtr(sub.PlanID)
	return &sub
}

func cloneEntry(e subscription.HistoryEntry) subscription.HistoryEntry {
	e.Metadata = cloneMeta(e.Metadata)
	return e
}

// PutPost stores a post as the content platform would.
func (s *Store) PutPost(ctx context.Context, post subscription.Post) error {
	return s.do(ctx, func(d *state) error {
		d.posts[post.ID] = post
		return nil
	})
}

func (s *Store) GetPost(ctx context.Context, id uuid.UUID) (*subscription.Post, error) {
	var out *subscription.Post
	err := s.do(ctx, func(d *state) error {
		p, ok := d.posts[id]
		if !ok {
			return subscription.ErrPostNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *Store) ListPlans(ctx context.Context, activeOnly bool) ([]subscription.Plan, error) {
	var out []subscription.Plan
	err := s.do(ctx, func(d *state) error {
		for _, p := range d.plans {
			if activeOnly && !p.IsActive {
				continue
			}
			out = append(out, *clonePlan(p))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b subscription.Plan) int {
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, err
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*subscription.Plan, error) {
	var out *subscription.Plan
	err := s.do(ctx, func(d *state) error {
		p, ok := d.plans[id]
		if !ok {
			return subscription.ErrPlanNotFound
		}
		out = clonePlan(p)
		return nil
	})
	return out, err
}

func (s *Store) UpsertPlan(ctx context.Context, plan *subscription.Plan) error {
	return s.do(ctx, func(d *state) error {
		for id, existing := range d.plans {
			if existing.ProviderPriceID == plan.ProviderPriceID {
				plan.ID = id
				plan.CreatedAt = existing.CreatedAt
				break
			}
		}
		d.plans[plan.ID] = *clonePlan(*plan)
		return nil
	})
}

func (s *Store) SetPlanActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.do(ctx, func(d *state) error {
		p, ok := d.plans[id]
		if !ok {
			return subscription.ErrPlanNotFound
		}
		p.IsActive = active
		p.UpdatedAt = time.Now().UTC()
		d.plans[id] = p
		return nil
	})
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	var out *subscription.Subscription
	err := s.do(ctx, func(d *state) error {
		sub, ok := d.subs[id]
		if !ok {
			return subscription.ErrSubscriptionNotFound
		}
		out = cloneSub(sub)
		return nil
	})
	return out, err
}

// GetSubscriptionForUpdate is GetSubscription: transactions are already exclusive.
func (s *Store) GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.GetSubscription(ctx, id)
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	return s.findSub(ctx, func(sub subscription.Subscription) bool { return sub.UserID == userID })
}

func (s *Store) GetSubscriptionByProviderRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	return s.findSub(ctx, func(sub subscription.Subscription) bool {
		return ref != "" && sub.ProviderSubscriptionID == ref
	})
}

func (s *Store) findSub(ctx context.Context, match func(subscription.Subscription) bool) (*subscription.Subscription, error) {
	var out *subscription.Subscription
	err := s.do(ctx, func(d *state) error {
		for _, sub := range d.subs {
			if match(sub) {
				out = cloneSub(sub)
				return nil
			}
		}
		return subscription.ErrSubscriptionNotFound
	})
	return out, err
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	return s.do(ctx, func(d *state) error {
		for _, existing := range d.subs {
			if existing.UserID == sub.UserID || existing.ID == sub.ID {
				return subscription.ErrSubscriptionExists
			}
		}
		d.subs[sub.ID] = *cloneSub(*sub)
		return nil
	})
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.subs[sub.ID]; !ok {
			return subscription.ErrSubscriptionNotFound
		}
		d.subs[sub.ID] = *cloneSub(*sub)
		return nil
	})
}

func (s *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	return s.do(ctx, func(d *state) error {
		sub, ok := d.subs[id]
		if !ok {
			return subscription.ErrSubscriptionNotFound
		}
		delete(d.subs, id)
		delete(d.pins, sub.UserID)
		d.history = slices.DeleteFunc(d.history, func(e subscription.HistoryEntry) bool {
			return e.SubscriptionID == id
		})
		return nil
	})
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]subscription.Subscription, error) {
	var out []subscription.Subscription
	err := s.do(ctx, func(d *state) error {
		for _, sub := range d.subs {
			if sub.Status == subscription.StatusActive && !sub.EndDate.After(now) {
				out = append(out, *cloneSub(sub))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b subscription.Subscription) int { return a.EndDate.Compare(b.EndDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *Store) GetPin(ctx context.Context, userID uuid.UUID) (*subscription.PinnedPost, error) {
	var out *subscription.PinnedPost
	err := s.do(ctx, func(d *state) error {
		pin, ok := d.pins[userID]
		if !ok {
			return subscription.ErrPinNotFound
		}
		out = &pin
		return nil
	})
	return out, err
}

// CreatePin enforces the same row guard as the SQL store: the owner must be
// the post author and hold an active subscription at PinnedAt.
func (s *Store) CreatePin(ctx context.Context, pin *subscription.PinnedPost) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.pins[pin.UserID]; ok {
			return subscription.ErrPinConflict
		}
		post, ok := d.posts[pin.PostID]
		if !ok {
			return subscription.ErrPostNotFound
		}
		if post.AuthorID != pin.UserID {
			return subscription.ErrNotPostAuthor
		}
		if !hasActiveSub(d, pin.UserID, pin.PinnedAt) {
			return subscription.ErrNotEntitled
		}
		d.pins[pin.UserID] = *pin
		return nil
	})
}

func (s *Store) DeletePin(ctx context.Context, userID uuid.UUID) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.pins[userID]; !ok {
			return subscription.ErrPinNotFound
		}
		delete(d.pins, userID)
		return nil
	})
}

func (s *Store) ListFeatured(ctx context.Context, now time.Time) ([]subscription.PinnedPost, error) {
	var out []subscription.PinnedPost
	err := s.do(ctx, func(d *state) error {
		for userID, pin := range d.pins {
			post, ok := d.posts[pin.PostID]
			if !ok || post.Status != subscription.PostPublished {
				continue
			}
			if hasActiveSub(d, userID, now) {
				out = append(out, pin)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b subscription.PinnedPost) int { return a.PinnedAt.Compare(b.PinnedAt) })
	return out, err
}

func hasActiveSub(d *state, userID uuid.UUID, at time.Time) bool {
	for _, sub := range d.subs {
		if sub.UserID == userID {
			return sub.IsActiveAt(at)
		}
	}
	return false
}

func (s *Store) AppendHistory(ctx context.Context, entry *subscription.HistoryEntry) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.subs[entry.SubscriptionID]; !ok {
			return subscription.ErrSubscriptionNotFound
		}
		d.history = append(d.history, cloneEntry(*entry))
		return nil
	})
}

func (s *Store) ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]subscription.HistoryEntry, error) {
	var out []subscription.HistoryEntry
	err := s.do(ctx, func(d *state) error {
		for _, e := range d.history {
			if e.SubscriptionID == subscriptionID {
				out = append(out, cloneEntry(e))
			}
		}
		return nil
	})
	return out, err
}
