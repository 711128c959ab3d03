// Package webhook reconciles payment provider notifications with payments,
// refunds and subscriptions.
//
// Ingest verifies a delivery with the provider's signature scheme, stores it
// as a pending Event and processes it right away. The unique (provider, event
// id) constraint of the store is the deduplication signal: a second delivery
// of the same event is acknowledged without touching any state.
//
// Process decodes the stored payload into a provider-neutral Notification and
// applies it in one transaction together with marking the event processed.
// When applying fails the transaction is rolled back and the event is marked
// failed with the error message; RetryFailed picks those up later within the
// retention window. Notifications that the current state has already
// superseded, and event types nobody handles, are marked ignored.
//
// Two providers are included: PaddleProvider (Paddle Billing, verified with
// the Paddle SDK) and StripeProvider (Stripe-format signed JSON).
package webhook
