// Package handler provides type-safe HTTP handlers that bind a request into a
// typed value and return a renderable Response.
//
//	h := handler.HandlerFunc[handler.Context, pinRequest](
//		func(ctx handler.Context, req pinRequest) handler.Response {
//			pin, err := subs.Pin(ctx, userID, req.PostID)
//			if err != nil {
//				return handler.JSONError(err)
//			}
//			return handler.JSON(pin, handler.WithJSONStatus(http.StatusCreated))
//		},
//	)
//	r.Post("/me/pinned-post", handler.Wrap(h, handler.WithBinders[handler.Context, pinRequest](binder.JSON())))
//
// Errors are rendered in the JSON envelope {data, meta, error{code, message, details}}.
// Domain errors are mapped to status codes by their apperr kind.
package handler
