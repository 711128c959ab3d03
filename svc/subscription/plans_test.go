package subscription_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

const catalog = `
plans:
  - name: Premium monthly
    price: "12.00"
    duration_days: 30
    provider_price_id: pri_monthly
    features: [pin_posts, priority_support, analytics]
  - name: Premium yearly
    price: "99.9"
    duration_days: 365
    provider_price_id: pri_yearly
    features: [pin_posts]
  - name: Legacy
    price: "5"
    provider_price_id: pri_legacy
    active: false
`

func TestParsePlans(t *testing.T) {
	t.Parallel()

	t.Run("valid catalog", func(t *testing.T) {
		t.Parallel()
		plans, err := subscription.ParsePlans(strings.NewReader(catalog))
		require.NoError(t, err)
		require.Len(t, plans, 3)

		assert.Equal(t, "12.00", plans[0].Price.StringFixed(2))
		assert.True(t, plans[0].HasFeature(subscription.FeatureAnalytics))
		assert.Equal(t, "99.90", plans[1].Price.StringFixed(2))
		assert.False(t, plans[1].HasFeature(subscription.FeatureAnalytics))
		assert.Equal(t, subscription.DefaultDurationDays, plans[2].DurationDays)
		assert.False(t, plans[2].IsActive)
	})

	t.Run("bad price", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.ParsePlans(strings.NewReader("plans:\n  - name: X\n    price: abc\n    provider_price_id: p\n"))
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("missing provider price id", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.ParsePlans(strings.NewReader("plans:\n  - name: X\n    price: \"1\"\n"))
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.ParsePlans(strings.NewReader("plans:\n  - name: X\n    cost: 1\n"))
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		plans, err := subscription.ParsePlans(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, plans)
	})
}

func TestLoadPlans(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	n, err := subscription.LoadPlans(ctx, f.svc, strings.NewReader(catalog))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Reloading updates in place, keyed by provider price id.
	_, err = subscription.LoadPlans(ctx, f.svc, strings.NewReader(catalog))
	require.NoError(t, err)

	all, err := f.svc.ListPlans(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 4, "three from the catalog plus the fixture default")

	active, err := f.svc.ListPlans(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 3)
	for i := 1; i < len(active); i++ {
		assert.True(t, active[i-1].Price.LessThanOrEqual(active[i].Price), "ordered by price")
	}

	var legacy subscription.Plan
	for _, p := range all {
		if p.ProviderPriceID == "pri_legacy" {
			legacy = p
		}
	}
	_, err = f.svc.GetPlan(ctx, legacy.ID)
	assert.ErrorIs(t, err, subscription.ErrPlanNotFound)

	require.NoError(t, f.svc.SetPlanActive(ctx, legacy.ID, true))
	got, err := f.svc.GetPlan(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, "Legacy", got.Name)
}
