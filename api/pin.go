package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/handler"
	"github.com/dmitrymomot/pinboard/pkg/apperr"
)

type pinRequest struct {
	PostID uuid.UUID `json:"post_id"`
}

type eligibilityRequest struct {
	PostID uuid.UUID `path:"postID"`
}

func (rt *routes) pinnedPost(ctx handler.Context, _ struct{}) handler.Response {
	pin, err := rt.subs.PinnedPost(ctx, principal(ctx).UserID)
	if err != nil {
		return handler.JSONError(err)
	}
	return handler.JSON(newPinView(pin))
}

func (rt *routes) pin(ctx handler.Context, req pinRequest) handler.Response {
	if req.PostID == uuid.Nil {
		return handler.JSONError(apperr.Validation("post_id is required"))
	}
	pin, err := rt.subs.Pin(ctx, principal(ctx).UserID, req.PostID)
	if err != nil {
		return handler.JSONError(err)
	}
	return handler.JSON(newPinView(pin), handler.WithJSONStatus(http.StatusCreated))
}

func (rt *routes) unpin(ctx handler.Context, _ struct{}) handler.Response {
	if err := rt.subs.Unpin(ctx, principal(ctx).UserID); err != nil {
		return handler.JSONError(err)
	}
	return handler.Empty()
}

func (rt *routes) eligibility(ctx handler.Context, req eligibilityRequest) handler.Response {
	e, err := rt.subs.CanPin(ctx, principal(ctx).UserID, req.PostID)
	if err != nil {
		return handler.JSONError(err)
	}
	v := newEligibilityView(e)
	v.PostID = req.PostID
	return handler.JSON(v)
}

func (rt *routes) featuredPosts(ctx handler.Context, _ struct{}) handler.Response {
	pins, err := rt.subs.FeaturedPosts(ctx)
	if err != nil {
		return handler.JSONError(err)
	}
	views := make([]*pinView, 0, len(pins))
	for i := range pins {
		views = append(views, newPinView(&pins[i]))
	}
	return handler.JSON(views, handler.WithJSONMeta(map[string]any{"total": len(views)}))
}
