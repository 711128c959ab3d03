package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
)

// Feature flags granted by plans.
const (
	FeaturePinPosts        = "pin_posts"
	FeaturePrioritySupport = "priority_support"
	FeatureAnalytics       = "analytics"
)

// DefaultPlan is the catalog entry seeded when no catalog file is given.
func DefaultPlan() Plan {
	return Plan{
		Name:            "Premium monthly",
		Price:           decimal.RequireFromString("12.00"),
		DurationDays:    DefaultDurationDays,
		ProviderPriceID: "premium_monthly",
		Features: map[string]bool{
			FeaturePinPosts:        true,
			FeaturePrioritySupport: true,
			FeatureAnalytics:       true,
		},
		IsActive: true,
	}
}

type planFile struct {
	Plans []planEntry `yaml:"plans"`
}

type planEntry struct {
	Name            string   `yaml:"name"`
	Price           string   `yaml:"price"`
	DurationDays    int      `yaml:"duration_days"`
	ProviderPriceID string   `yaml:"provider_price_id"`
	Features        []string `yaml:"features"`
	Active          *bool    `yaml:"active"`
}

// ParsePlans reads a YAML plan catalog:
//
//	plans:
//	  - name: Premium monthly
//	    price: "12.00"
//	    duration_days: 30
//	    provider_price_id: pri_01h...
//	    features: [pin_posts, analytics]
func ParsePlans(r io.Reader) ([]Plan, error) {
	var f planFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: decode plan catalog: %v", ErrInvalidPlan, err)
	}

	plans := make([]Plan, 0, len(f.Plans))
	for i, e := range f.Plans {
		price, err := decimal.NewFromString(strings.TrimSpace(e.Price))
		if err != nil {
			return nil, fmt.Errorf("%w: plans[%d] price %q", ErrInvalidPlan, i, e.Price)
		}
		p := Plan{
			Name:            e.Name,
			Price:           price,
			DurationDays:    e.DurationDays,
			ProviderPriceID: e.ProviderPriceID,
			Features:        make(map[string]bool, len(e.Features)),
			IsActive:        e.Active == nil || *e.Active,
		}
		for _, feat := range e.Features {
			p.Features[feat] = true
		}
		if err := validatePlan(&p); err != nil {
			return nil, fmt.Errorf("plans[%d]: %w", i, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// LoadPlans upserts every plan of a YAML catalog and returns how many were stored.
func LoadPlans(ctx context.Context, svc Service, r io.Reader) (int, error) {
	plans, err := ParsePlans(r)
	if err != nil {
		return 0, err
	}
	for i := range plans {
		if err := svc.UpsertPlan(ctx, &plans[i]); err != nil {
			return i, err
		}
	}
	return len(plans), nil
}

func validatePlan(p *Plan) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPlan)
	case p.ProviderPriceID == "":
		return fmt.Errorf("%w: provider price id is required", ErrInvalidPlan)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidPlan)
	case p.DurationDays < 0:
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidPlan)
	}
	if p.DurationDays == 0 {
		p.DurationDays = DefaultDurationDays
	}
	p.Price = p.Price.Round(2)
	return nil
}

func (s *service) ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error) {
	plans, err := s.store.ListPlans(ctx, activeOnly)
	if err != nil {
		return nil, apperr.Internal("subscription: list plans", err)
	}
	return plans, nil
}

// GetPlan returns an active plan; retired plans are reported as not found.
func (s *service) GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, apperr.Internal("subscription: get plan", err)
	}
	if !plan.IsActive {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

func (s *service) UpsertPlan(ctx context.Context, plan *Plan) error {
	if plan == nil {
		return ErrInvalidPlan
	}
	if err := validatePlan(plan); err != nil {
		return err
	}

	now := s.now()
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	if err := s.store.UpsertPlan(ctx, plan); err != nil {
		return apperr.Internal("subscription: upsert plan", err)
	}
	s.log.InfoContext(ctx, "plan stored",
		slog.String("plan_id", plan.ID.String()),
		slog.String("provider_price_id", plan.ProviderPriceID),
	)
	return nil
}

func (s *service) SetPlanActive(ctx context.Context, planID uuid.UUID, active bool) error {
	if err := s.store.SetPlanActive(ctx, planID, active); err != nil {
		return apperr.Internal("subscription: set plan active", err)
	}
	return nil
}
