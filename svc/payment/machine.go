package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/pinboard/pkg/statemachine"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

// Payment lifecycle events.
const (
	EventProcess statemachine.StringEvent = "process"
	EventSucceed statemachine.StringEvent = "succeed"
	EventFail    statemachine.StringEvent = "fail"
	EventCancel  statemachine.StringEvent = "cancel"
	EventRefund  statemachine.StringEvent = "refund"
)

// Refund lifecycle events.
const (
	EventConfirm statemachine.StringEvent = "confirm"
	EventReject  statemachine.StringEvent = "reject"
)

type paymentChange struct {
	payment *Payment
	reason  string
	now     time.Time
}

type refundChange struct {
	refund     *Refund
	providerID string
	reason     string
	now        time.Time
}

// newMachine builds the payment table. The two edges into succeeded and
// failed from {pending, processing} are the only ones that reach the
// subscription; re-reported outcomes resolve to self-loops without actions.
func (s *service) newMachine() *statemachine.Table {
	open := []Status{StatusPending, StatusProcessing}

	defs := []statemachine.TransitionDef{
		{From: StatusPending, To: StatusProcessing, Event: EventProcess, Actions: []statemachine.Action{s.persistPayment}},
		{From: StatusProcessing, To: StatusProcessing, Event: EventProcess},
		{From: StatusSucceeded, To: StatusSucceeded, Event: EventSucceed},
		{From: StatusFailed, To: StatusFailed, Event: EventFail},
		{From: StatusCancelled, To: StatusCancelled, Event: EventCancel},
		{From: StatusSucceeded, To: StatusRefunded, Event: EventRefund, Actions: []statemachine.Action{s.persistPayment}},
		{From: StatusRefunded, To: StatusRefunded, Event: EventRefund},
	}
	for _, from := range open {
		defs = append(defs,
			statemachine.TransitionDef{
				From: from, To: StatusSucceeded, Event: EventSucceed,
				Actions: []statemachine.Action{stampProcessed, s.persistPayment, s.activateSubscription},
			},
			statemachine.TransitionDef{
				From: from, To: StatusFailed, Event: EventFail,
				Actions: []statemachine.Action{stampProcessed, noteFailure, s.persistPayment, s.reportFailure},
			},
			statemachine.TransitionDef{
				From: from, To: StatusCancelled, Event: EventCancel,
				Actions: []statemachine.Action{stampProcessed, s.persistPayment},
			},
		)
	}

	return statemachine.MustNew(statemachine.WithTransitions(defs))
}

// newRefundMachine builds the refund table: pending resolves once, repeats are absorbed.
func (s *service) newRefundMachine() *statemachine.Table {
	return statemachine.MustNew(
		statemachine.WithTransition(StatusPending, StatusSucceeded, EventConfirm,
			statemachine.WithActions(s.settleRefund, s.persistRefund)),
		statemachine.WithTransition(StatusPending, StatusFailed, EventReject,
			statemachine.WithActions(s.settleRefund, s.persistRefund)),
		statemachine.WithTransition(StatusSucceeded, StatusSucceeded, EventConfirm),
		statemachine.WithTransition(StatusFailed, StatusFailed, EventReject),
	)
}

func paymentOf(data any) (*paymentChange, error) {
	c, ok := data.(*paymentChange)
	if !ok || c == nil || c.payment == nil {
		return nil, fmt.Errorf("unexpected transition payload %T", data)
	}
	return c, nil
}

func refundOf(data any) (*refundChange, error) {
	c, ok := data.(*refundChange)
	if !ok || c == nil || c.refund == nil {
		return nil, fmt.Errorf("unexpected transition payload %T", data)
	}
	return c, nil
}

func stampProcessed(_ context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	c, err := paymentOf(data)
	if err != nil {
		return err
	}
	at := c.now
	c.payment.ProcessedAt = &at
	return nil
}

func noteFailure(_ context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	c, err := paymentOf(data)
	if err != nil {
		return err
	}
	if c.reason == "" {
		return nil
	}
	if c.payment.Metadata == nil {
		c.payment.Metadata = make(map[string]any)
	}
	c.payment.Metadata["failure_reason"] = c.reason
	return nil
}

func (s *service) persistPayment(ctx context.Context, _, to statemachine.State, _ statemachine.Event, data any) error {
	c, err := paymentOf(data)
	if err != nil {
		return err
	}
	c.payment.Status = to.(Status)
	c.payment.UpdatedAt = c.now
	return s.store.UpdatePayment(ctx, c.payment)
}

func (s *service) activateSubscription(ctx context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	c, err := paymentOf(data)
	if err != nil {
		return err
	}
	p := c.payment
	if p.SubscriptionID == nil {
		return nil
	}
	return s.bridge.ActivateFromPayment(ctx, *p.SubscriptionID, subscription.PaymentRef{
		PaymentID: p.ID,
		Amount:    p.Amount,
		Currency:  p.Currency,
	})
}

func (s *service) reportFailure(ctx context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	c, err := paymentOf(data)
	if err != nil {
		return err
	}
	p := c.payment
	if p.SubscriptionID == nil {
		return nil
	}
	return s.bridge.RecordPaymentFailure(ctx, *p.SubscriptionID, subscription.PaymentRef{
		PaymentID: p.ID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Reason:    c.reason,
	})
}

func (s *service) settleRefund(_ context.Context, _, to statemachine.State, _ statemachine.Event, data any) error {
	c, err := refundOf(data)
	if err != nil {
		return err
	}
	at := c.now
	c.refund.ProcessedAt = &at
	if c.providerID != "" {
		c.refund.ProviderRefundID = c.providerID
	}
	if to == StatusFailed {
		c.refund.FailureReason = c.reason
	}
	return nil
}

func (s *service) persistRefund(ctx context.Context, _, to statemachine.State, _ statemachine.Event, data any) error {
	c, err := refundOf(data)
	if err != nil {
		return err
	}
	c.refund.Status = to.(Status)
	c.refund.UpdatedAt = c.now
	return s.store.UpdateRefund(ctx, c.refund)
}
