package subscription

import (
	"fmt"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
)

var (
	ErrSubscriptionNotFound = fmt.Errorf("%w: subscription not found", apperr.ErrNotFound)
	ErrSubscriptionExists   = fmt.Errorf("%w: user already has a subscription", apperr.ErrConflict)
	ErrInvalidState         = fmt.Errorf("%w: operation not allowed in current subscription state", apperr.ErrValidation)
	ErrPlanRequired         = fmt.Errorf("%w: subscription has no plan", apperr.ErrValidation)
	ErrInvalidDays          = fmt.Errorf("%w: days must be positive", apperr.ErrValidation)
	ErrInvalidPlan          = fmt.Errorf("%w: invalid plan", apperr.ErrValidation)

	ErrPlanNotFound = fmt.Errorf("%w: plan not found", apperr.ErrNotFound)
	ErrPlanInactive = fmt.Errorf("%w: plan is not available", apperr.ErrValidation)

	ErrPostNotFound = fmt.Errorf("%w: post not found", apperr.ErrNotFound)
	ErrPinNotFound  = fmt.Errorf("%w: no pinned post", apperr.ErrNotFound)

	ErrNotEntitled      = fmt.Errorf("%w: active subscription required to pin posts", apperr.ErrPermission)
	ErrNotPostAuthor    = fmt.Errorf("%w: only own posts can be pinned", apperr.ErrPermission)
	ErrPostNotPublished = fmt.Errorf("%w: only published posts can be pinned", apperr.ErrPermission)

	// ErrPinConflict reports a concurrent pin that lost the per-user uniqueness race.
	ErrPinConflict = fmt.Errorf("%w: pinned post changed concurrently", apperr.ErrConflict)
)
