package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/pinboard/pkg/pg"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

// PutPost upserts a post into the local projection of the content platform.
func (s *Store) PutPost(ctx context.Context, post subscription.Post) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO posts (id, author_id, title, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET author_id = EXCLUDED.author_id, title = EXCLUDED.title, status = EXCLUDED.status`,
		post.ID, post.AuthorID, post.Title, string(post.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert post: %w", err)
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, id uuid.UUID) (*subscription.Post, error) {
	var (
		post   subscription.Post
		status string
	)
	err := s.db(ctx).QueryRow(ctx,
		`SELECT id, author_id, title, status FROM posts WHERE id = $1`, id,
	).Scan(&post.ID, &post.AuthorID, &post.Title, &status)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	post.Status = subscription.PostStatus(status)
	return &post, nil
}

const planColumns = `id, name, price::text, duration_days, provider_price_id, features, is_active, created_at, updated_at`

func scanPlan(row pgx.Row) (*subscription.Plan, error) {
	var (
		p     subscription.Plan
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.DurationDays, &p.ProviderPriceID,
		&p.Features, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid plan price %q: %w", price, err)
	}
	return &p, nil
}

func (s *Store) ListPlans(ctx context.Context, activeOnly bool) ([]subscription.Plan, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+planColumns+`
		FROM subscription_plans
		WHERE is_active OR NOT $1
		ORDER BY price, name`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []subscription.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return plans, nil
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*subscription.Plan, error) {
	p, err := scanPlan(s.db(ctx).QueryRow(ctx,
		`SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (s *Store) UpsertPlan(ctx context.Context, plan *subscription.Plan) error {
	err := s.db(ctx).QueryRow(ctx, `
		INSERT INTO subscription_plans
			(id, name, price, duration_days, provider_price_id, features, is_active, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider_price_id) DO UPDATE
		SET name = EXCLUDED.name,
			price = EXCLUDED.price,
			duration_days = EXCLUDED.duration_days,
			features = EXCLUDED.features,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		plan.ID, plan.Name, plan.Price.String(), plan.DurationDays, plan.ProviderPriceID,
		features(plan.Features), plan.IsActive, plan.CreatedAt, plan.UpdatedAt,
	).Scan(&plan.ID, &plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

func (s *Store) SetPlanActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE subscription_plans SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrPlanNotFound
	}
	return nil
}

const subscriptionColumns = `id, user_id, plan_id, status, start_date, end_date,
	provider_subscription_id, auto_renew, created_at, updated_at`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		sub    subscription.Subscription
		status string
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &status, &sub.StartDate, &sub.EndDate,
		&sub.ProviderSubscriptionID, &sub.AutoRenew, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Status = subscription.Status(status)
	return &sub, nil
}

func (s *Store) getSubscription(ctx context.Context, where string, arg any) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.db(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE `+where, arg))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.getSubscription(ctx, `id = $1`, id)
}

func (s *Store) GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.getSubscription(ctx, `id = $1 FOR UPDATE`, id)
}

func (s *Store) GetSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	return s.getSubscription(ctx, `user_id = $1`, userID)
}

func (s *Store) GetSubscriptionByProviderRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	if ref == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return s.getSubscription(ctx, `provider_subscription_id = $1`, ref)
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.UserID, sub.PlanID, string(sub.Status), sub.StartDate, sub.EndDate,
		sub.ProviderSubscriptionID, sub.AutoRenew, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return subscription.ErrSubscriptionExists
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE subscriptions
		SET plan_id = $2, status = $3, start_date = $4, end_date = $5,
			provider_subscription_id = $6, auto_renew = $7, updated_at = $8
		WHERE id = $1`,
		sub.ID, sub.PlanID, string(sub.Status), sub.StartDate, sub.EndDate,
		sub.ProviderSubscriptionID, sub.AutoRenew, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription relies on ON DELETE CASCADE for history and the pin.
func (s *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db(ctx).Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]subscription.Subscription, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'active' AND end_date <= $1
		ORDER BY end_date
		LIMIT $2`, now, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) GetPin(ctx context.Context, userID uuid.UUID) (*subscription.PinnedPost, error) {
	var pin subscription.PinnedPost
	err := s.db(ctx).QueryRow(ctx, `
		SELECT pp.user_id, pp.post_id, COALESCE(p.title, pp.post_title), pp.pinned_at
		FROM pinned_posts pp
		LEFT JOIN posts p ON p.id = pp.post_id
		WHERE pp.user_id = $1`, userID,
	).Scan(&pin.UserID, &pin.PostID, &pin.PostTitle, &pin.PinnedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrPinNotFound
		}
		return nil, fmt.Errorf("failed to get pinned post: %w", err)
	}
	return &pin, nil
}

// CreatePin inserts the row only if the user authored the post and holds an
// active subscription at pin.PinnedAt. When the guard filters the row out the
// failing predicate is looked up to return a precise error.
func (s *Store) CreatePin(ctx context.Context, pin *subscription.PinnedPost) error {
	tag, err := s.db(ctx).Exec(ctx, `
		INSERT INTO pinned_posts (user_id, post_id, post_title, pinned_at)
		SELECT $1, p.id, $3, $4
		FROM posts p
		JOIN subscriptions s ON s.user_id = $1
		WHERE p.id = $2
			AND p.author_id = $1
			AND s.status = 'active'
			AND s.end_date > $4`,
		pin.UserID, pin.PostID, pin.PostTitle, pin.PinnedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return subscription.ErrPinConflict
		}
		return fmt.Errorf("failed to create pinned post: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	post, err := s.GetPost(ctx, pin.PostID)
	if err != nil {
		return err
	}
	if post.AuthorID != pin.UserID {
		return subscription.ErrNotPostAuthor
	}
	return subscription.ErrNotEntitled
}

func (s *Store) DeletePin(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.db(ctx).Exec(ctx, `DELETE FROM pinned_posts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete pinned post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrPinNotFound
	}
	return nil
}

func (s *Store) ListFeatured(ctx context.Context, now time.Time) ([]subscription.PinnedPost, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT pp.user_id, pp.post_id, p.title, pp.pinned_at
		FROM pinned_posts pp
		JOIN posts p ON p.id = pp.post_id
		JOIN subscriptions s ON s.user_id = pp.user_id
		WHERE p.status = 'published'
			AND s.status = 'active'
			AND s.end_date > $1
		ORDER BY pp.pinned_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query featured posts: %w", err)
	}
	defer rows.Close()

	var pins []subscription.PinnedPost
	for rows.Next() {
		var pin subscription.PinnedPost
		if err := rows.Scan(&pin.UserID, &pin.PostID, &pin.PostTitle, &pin.PinnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pinned post: %w", err)
		}
		pins = append(pins, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pinned posts: %w", err)
	}
	return pins, nil
}

func (s *Store) AppendHistory(ctx context.Context, entry *subscription.HistoryEntry) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO subscription_history (id, subscription_id, action, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.SubscriptionID, string(entry.Action), entry.Description,
		metadata(entry.Metadata), entry.CreatedAt,
	)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return subscription.ErrSubscriptionNotFound
		}
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]subscription.HistoryEntry, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT id, subscription_id, action, description, metadata, created_at
		FROM subscription_history
		WHERE subscription_id = $1
		ORDER BY seq`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []subscription.HistoryEntry
	for rows.Next() {
		var (
			e      subscription.HistoryEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.SubscriptionID, &action, &e.Description, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Action = subscription.Action(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}

func metadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func features(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}

// limitOrAll maps a non-positive limit to no limit (LIMIT NULL).
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
