// Package payment tracks charges, their provider-side attempts and refunds.
//
// Status changes go through a statemachine.Table. The edges from pending or
// processing into succeeded and failed call the SubscriptionBridge inside the
// same transaction, so a successful payment and the subscription period it
// buys are committed together. Repeated notifications of an outcome that is
// already stored are absorbed without side effects.
//
// Refunds are only possible for succeeded payments made through a provider
// that supports them. The sum of pending and succeeded refunds never exceeds
// the payment amount; once succeeded refunds cover it, the payment becomes
// refunded.
package payment
