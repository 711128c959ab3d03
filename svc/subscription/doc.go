// Package subscription owns the subscription lifecycle of a user, the pinned
// post entitlement that depends on it, the append-only history ledger and the
// plan catalog.
//
// Lifecycle transitions are driven by a statemachine.Table. Each transition
// runs in a single store transaction: the subscription row is locked, side
// effects such as removing the pinned post are performed, and exactly one
// history entry is appended together with the new status.
//
//	svc := subscription.NewService(store, store, store,
//		subscription.WithLogger(log),
//		subscription.WithMetrics(m),
//	)
//	sub, err := svc.CreatePending(ctx, userID, planID)
//	// ... payment succeeds ...
//	err = svc.ActivateFromPayment(ctx, sub.ID, subscription.PaymentRef{PaymentID: paymentID})
//
// Pinning is allowed only for the author of a published post who holds an
// active subscription (see Evaluate). Canceling or expiring a subscription
// removes its pinned post and logs an unpinned_post entry first.
package subscription
