package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/handler"
	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

type planRequest struct {
	PlanID uuid.UUID `path:"planID" json:"-"`
}

type setPlanActiveRequest struct {
	PlanID   uuid.UUID `path:"planID" json:"-"`
	IsActive *bool     `json:"is_active"`
}

type checkoutRequest struct {
	PlanID uuid.UUID `json:"plan_id"`
}

func (rt *routes) listPlans(ctx handler.Context, _ struct{}) handler.Response {
	plans, err := rt.subs.ListPlans(ctx, true)
	if err != nil {
		return handler.JSONError(err)
	}
	views := make([]*planView, 0, len(plans))
	for i := range plans {
		views = append(views, newPlanView(&plans[i]))
	}
	return handler.JSON(views)
}

func (rt *routes) getPlan(ctx handler.Context, req planRequest) handler.Response {
	plan, err := rt.subs.GetPlan(ctx, req.PlanID)
	if err != nil {
		return handler.JSONError(err)
	}
	return handler.JSON(newPlanView(plan))
}

func (rt *routes) setPlanActive(ctx handler.Context, req setPlanActiveRequest) handler.Response {
	if req.IsActive == nil {
		return handler.JSONError(apperr.Validation("is_active is required"))
	}
	if err := rt.subs.SetPlanActive(ctx, req.PlanID, *req.IsActive); err != nil {
		return handler.JSONError(err)
	}
	return handler.Empty()
}

func (rt *routes) membership(ctx handler.Context, _ struct{}) handler.Response {
	m, err := rt.subs.Membership(ctx, principal(ctx).UserID)
	if err != nil {
		return handler.JSONError(err)
	}
	return handler.JSON(newMembershipView(m))
}

func (rt *routes) startCheckout(ctx handler.Context, req checkoutRequest) handler.Response {
	if req.PlanID == uuid.Nil {
		return handler.JSONError(apperr.Validation("plan_id is required"))
	}
	res, err := rt.checkout.Start(ctx, principal(ctx).UserID, req.PlanID)
	if err != nil {
		return handler.JSONError(err)
	}
	return handler.JSON(checkoutView{
		Subscription: newSubscriptionView(res.Subscription),
		Payment:      newPaymentView(res.Payment),
		CheckoutURL:  res.CheckoutURL,
	}, handler.WithJSONStatus(http.StatusCreated))
}

func (rt *routes) history(ctx handler.Context, _ struct{}) handler.Response {
	entries, err := rt.subs.History(ctx, principal(ctx).UserID)
	if err != nil {
		return handler.JSONError(err)
	}
	views := make([]historyView, 0, len(entries))
	for _, e := range entries {
		views = append(views, historyView{
			ID:          e.ID,
			Action:      e.Action,
			Description: e.Description,
			Metadata:    e.Metadata,
			CreatedAt:   e.CreatedAt,
		})
	}
	return handler.JSON(views)
}

func (rt *routes) cancel(ctx handler.Context, _ struct{}) handler.Response {
	sub, err := rt.subs.Cancel(ctx, principal(ctx).UserID, subscription.InitiatorUser)
	if err != nil {
		return handler.JSONError(err)
	}
	return handler.JSON(newSubscriptionView(sub))
}
