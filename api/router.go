package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/pinboard/handler"
	"github.com/dmitrymomot/pinboard/pkg/binder"
	"github.com/dmitrymomot/pinboard/pkg/httpserver"
	"github.com/dmitrymomot/pinboard/pkg/idempotency"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/pkg/metrics"
	"github.com/dmitrymomot/pinboard/svc/checkout"
	"github.com/dmitrymomot/pinboard/svc/payment"
	"github.com/dmitrymomot/pinboard/svc/subscription"
	"github.com/dmitrymomot/pinboard/svc/webhook"
)

// Deps are the collaborators mounted by NewRouter. Idempotency, Metrics and
// Checks are optional.
type Deps struct {
	Subscriptions subscription.Service
	Payments      payment.Service
	Checkout      checkout.Service
	Webhooks      webhook.Service

	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	Metrics        *metrics.Metrics
	Checks         map[string]httpserver.Check
	Logger         *slog.Logger
}

type routes struct {
	subs     subscription.Service
	payments payment.Service
	checkout checkout.Service
	hooks    webhook.Service
	errors   handler.ErrorHandler[handler.Context]
	log      *slog.Logger
}

// NewRouter builds the HTTP surface. Panics if a service is nil.
func NewRouter(deps Deps) chi.Router {
	if deps.Subscriptions == nil || deps.Payments == nil || deps.Checkout == nil || deps.Webhooks == nil {
		panic("api: subscription, payment, checkout and webhook services are required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("api"))

	rt := &routes{
		subs:     deps.Subscriptions,
		payments: deps.Payments,
		checkout: deps.Checkout,
		hooks:    deps.Webhooks,
		errors:   handler.NewErrorHandler[handler.Context](log),
		log:      log,
	}

	path := binder.Path(chi.URLParam)
	body := binder.JSON()

	r := chi.NewRouter()
	r.Use(RequestID, middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = handler.JSONError(handler.ErrNotFound).Render(w, r)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = handler.JSONError(handler.ErrMethodNotAllowed).Render(w, r)
	})

	r.Get("/healthz", httpserver.HealthHandler(log, deps.Checks))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Get("/plans", wrap(rt, rt.listPlans))
	r.Get("/plans/{planID}", wrap(rt, rt.getPlan, path))
	r.Get("/pinned-posts", wrap(rt, rt.featuredPosts))
	r.Post("/webhooks/{provider}", wrap(rt, rt.ingestWebhook, path, webhookBody))

	r.Group(func(r chi.Router) {
		r.Use(Authenticate)
		if deps.Idempotency != nil {
			opts := []idempotency.Option{
				idempotency.WithKeyFunc(idempotencyScope),
				idempotency.WithConflictHandler(func(w http.ResponseWriter, r *http.Request, err error) {
					_ = handler.JSONError(err).Render(w, r)
				}),
				idempotency.WithLogger(log),
			}
			if deps.IdempotencyTTL > 0 {
				opts = append(opts, idempotency.WithTTL(deps.IdempotencyTTL))
			}
			r.Use(idempotency.Middleware(deps.Idempotency, opts...))
		}

		r.Route("/me", func(r chi.Router) {
			r.Get("/subscription", wrap(rt, rt.membership))
			r.Post("/subscription", wrap(rt, rt.startCheckout, body))
			r.Get("/subscription/history", wrap(rt, rt.history))
			r.Post("/subscription/cancel", wrap(rt, rt.cancel))

			r.Get("/pinned-post", wrap(rt, rt.pinnedPost))
			r.Post("/pinned-post", wrap(rt, rt.pin, body))
			r.Delete("/pinned-post", wrap(rt, rt.unpin))
			r.Get("/pinned-post/eligibility/{postID}", wrap(rt, rt.eligibility, path))

			r.Get("/payments", wrap(rt, rt.myPayments))
			r.Get("/payments/{paymentID}", wrap(rt, rt.myPayment, path))
			r.Post("/payments/{paymentID}/cancel", wrap(rt, rt.cancelPayment, path))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Patch("/plans/{planID}", wrap(rt, rt.setPlanActive, path, body))
			r.Get("/payments/{paymentID}", wrap(rt, rt.getPayment, path))
			r.Get("/payments/{paymentID}/refunds", wrap(rt, rt.listRefunds, path))
			r.Post("/payments/{paymentID}/refunds", wrap(rt, rt.createRefund, path, body))
		})
	})

	return r
}

func wrap[R any](rt *routes, h handler.HandlerFunc[handler.Context, R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithBinders[handler.Context, R](binders...),
		handler.WithErrorHandler[handler.Context, R](rt.errors),
	)
}
