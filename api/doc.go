// Package api exposes the subscription, pin, refund and webhook operations
// over HTTP using chi.
//
// Authentication is delegated to an upstream gateway that sets X-User-ID (and
// X-User-Role for administrators). Every response uses the JSON envelope from
// the handler package.
//
//	r := api.NewRouter(api.Deps{
//		Subscriptions: subs,
//		Payments:      payments,
//		Webhooks:      hooks,
//		Idempotency:   idempotency.NewRedisStore(rdb, "idem:"),
//		Logger:        log,
//	})
//	srv.Run(ctx, r)
package api
