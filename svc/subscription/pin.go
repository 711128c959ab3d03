package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
)

// Evaluate decides whether userID may pin post at now. It is recomputed on
// every attempt; sub is nil when the user has no subscription.
func Evaluate(post *Post, userID uuid.UUID, sub *Subscription, now time.Time) Entitlement {
	e := Entitlement{}
	if post == nil {
		e.Reason = ErrPostNotFound
		return e
	}

	e.PostID = post.ID
	e.PostExists = true
	e.PostPublished = post.Status == PostPublished
	e.IsOwnPost = post.AuthorID == userID
	e.HasSubscription = sub != nil && sub.UserID == userID
	e.SubscriptionActive = e.HasSubscription && sub.IsActiveAt(now)

	switch {
	case !e.IsOwnPost:
		e.Reason = ErrNotPostAuthor
	case !e.PostPublished:
		e.Reason = ErrPostNotPublished
	case !e.SubscriptionActive:
		e.Reason = ErrNotEntitled
	default:
		e.Allowed = true
	}
	return e
}

// NewPinnedPost builds a pin row. It re-checks ownership and the owner's
// active subscription regardless of what the caller already verified.
func NewPinnedPost(post *Post, sub *Subscription, now time.Time) (*PinnedPost, error) {
	if post == nil {
		return nil, ErrPostNotFound
	}
	if sub == nil || !sub.IsActiveAt(now) {
		return nil, ErrNotEntitled
	}
	if post.AuthorID != sub.UserID {
		return nil, ErrNotPostAuthor
	}
	return &PinnedPost{
		UserID:    sub.UserID,
		PostID:    post.ID,
		PostTitle: post.Title,
		PinnedAt:  now,
	}, nil
}

func (s *service) CanPin(ctx context.Context, userID, postID uuid.UUID) (Entitlement, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if errors.Is(err, ErrPostNotFound) {
		return Entitlement{PostID: postID, Reason: ErrPostNotFound}, nil
	}
	if err != nil {
		return Entitlement{}, apperr.Internal("subscription: can pin", err)
	}

	sub, err := s.userSubscription(ctx, userID)
	if err != nil {
		return Entitlement{}, apperr.Internal("subscription: can pin", err)
	}

	return Evaluate(post, userID, sub, s.now()), nil
}

// Pin replaces the user's pinned post with postID.
func (s *service) Pin(ctx context.Context, userID, postID uuid.UUID) (*PinnedPost, error) {
	var (
		pin      *PinnedPost
		replaced *PinnedPost
		created  bool
	)

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		post, err := s.posts.GetPost(ctx, postID)
		if err != nil {
			return err
		}

		sub, err := s.userSubscription(ctx, userID)
		if err != nil {
			return err
		}
		if sub != nil {
			// Serializes pin changes with cancel and expire of the same subscription.
			if sub, err = s.store.GetSubscriptionForUpdate(ctx, sub.ID); err != nil {
				return err
			}
		}

		now := s.now()
		if e := Evaluate(post, userID, sub, now); !e.Allowed {
			return e.Reason
		}

		current, err := s.store.GetPin(ctx, userID)
		switch {
		case err == nil && current.PostID == postID:
			pin = current
			return nil
		case err != nil && !errors.Is(err, ErrPinNotFound):
			return err
		}

		if replaced, err = s.removePin(ctx, sub, now, "replaced by another post"); err != nil {
			return err
		}

		next, err := NewPinnedPost(post, sub, now)
		if err != nil {
			return err
		}
		if err := s.store.CreatePin(ctx, next); err != nil {
			return err
		}
		if err := s.store.AppendHistory(ctx, &HistoryEntry{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			Action:         ActionPinnedPost,
			Description:    "Pinned post: " + post.Title,
			Metadata: map[string]any{
				"post_id":    post.ID.String(),
				"post_title": post.Title,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}

		pin, created = next, true
		return nil
	})
	if err != nil {
		return nil, apperr.Internal("subscription: pin", err)
	}

	if !created {
		return pin, nil
	}
	if replaced != nil {
		s.metrics.PinChange("unpin")
	}
	s.metrics.PinChange("pin")
	s.log.InfoContext(ctx, "post pinned", logger.UserID(userID), logger.PostID(postID))
	return pin, nil
}

func (s *service) Unpin(ctx context.Context, userID uuid.UUID) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetPin(ctx, userID); err != nil {
			return err
		}

		sub, err := s.userSubscription(ctx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			// Orphaned pin without a ledger to write to.
			return s.store.DeletePin(ctx, userID)
		}

		_, err = s.removePin(ctx, sub, s.now(), "unpinned by user")
		return err
	})
	if err != nil {
		return apperr.Internal("subscription: unpin", err)
	}

	s.metrics.PinChange("unpin")
	s.log.InfoContext(ctx, "post unpinned", logger.UserID(userID))
	return nil
}

func (s *service) PinnedPost(ctx context.Context, userID uuid.UUID) (*PinnedPost, error) {
	pin, err := s.store.GetPin(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("subscription: pinned post", err)
	}
	return pin, nil
}

func (s *service) IsPinned(ctx context.Context, userID, postID uuid.UUID) (bool, error) {
	pin, err := s.store.GetPin(ctx, userID)
	if errors.Is(err, ErrPinNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Internal("subscription: is pinned", err)
	}
	return pin.PostID == postID, nil
}

func (s *service) FeaturedPosts(ctx context.Context) ([]PinnedPost, error) {
	pins, err := s.store.ListFeatured(ctx, s.now())
	if err != nil {
		return nil, apperr.Internal("subscription: featured posts", err)
	}
	return pins, nil
}

// removePin deletes the owner's pin, writing the unpinned_post entry first.
// It returns nil when there was nothing to remove.
func (s *service) removePin(ctx context.Context, sub *Subscription, now time.Time, reason string) (*PinnedPost, error) {
	pin, err := s.store.GetPin(ctx, sub.UserID)
	if errors.Is(err, ErrPinNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.AppendHistory(ctx, &HistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Action:         ActionUnpinnedPost,
		Description:    "Unpinned post: " + pin.PostTitle,
		Metadata: map[string]any{
			"post_id":    pin.PostID.String(),
			"post_title": pin.PostTitle,
			"reason":     reason,
		},
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	if err := s.store.DeletePin(ctx, sub.UserID); err != nil {
		return nil, err
	}

	return pin, nil
}

func (s *service) userSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	return sub, err
}
