package subscription

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/pkg/statemachine"
)

// Subscription lifecycle events.
const (
	EventActivate statemachine.StringEvent = "activate"
	EventExtend   statemachine.StringEvent = "extend"
	EventCancel   statemachine.StringEvent = "cancel"
	EventExpire   statemachine.StringEvent = "expire"
	EventReopen   statemachine.StringEvent = "reopen"
)

// change is the transition payload. Actions mutate sub in place; the final
// persist action stores it together with the single history row.
type change struct {
	event     statemachine.StringEvent
	sub       *Subscription
	plan      *Plan
	days      int
	initiator Initiator
	force     bool
	now       time.Time
	meta      map[string]any
	action    Action
	desc      string
}

func (c *change) with(key string, value any) {
	if c.meta == nil {
		c.meta = make(map[string]any)
	}
	c.meta[key] = value
}

func payloadOf(data any) (*change, error) {
	c, ok := data.(*change)
	if !ok || c == nil || c.sub == nil {
		return nil, fmt.Errorf("unexpected transition payload %T", data)
	}
	return c, nil
}

// newMachine wires the subscription transition table. Every edge ends with
// persist so that a status change and its history row are written together.
func (s *service) newMachine() *statemachine.Table {
	anyState := []Status{StatusPending, StatusActive, StatusExpired, StatusCanceled}

	var defs []statemachine.TransitionDef
	for _, from := range anyState {
		defs = append(defs,
			statemachine.TransitionDef{
				From: from, To: StatusActive, Event: EventActivate,
				Actions: []statemachine.Action{s.startPeriod, s.persist},
			},
			statemachine.TransitionDef{
				From: from, To: StatusActive, Event: EventExtend,
				Actions: []statemachine.Action{s.extendPeriod, s.persist},
			},
		)
	}

	defs = append(defs,
		statemachine.TransitionDef{
			From: StatusPending, To: StatusCanceled, Event: EventCancel,
			Actions: []statemachine.Action{s.releasePin, s.stopRenewal, s.persist},
		},
		statemachine.TransitionDef{
			From: StatusActive, To: StatusCanceled, Event: EventCancel,
			Actions: []statemachine.Action{s.releasePin, s.stopRenewal, s.persist},
		},
		// Repeated cancellation from retried requests is absorbed.
		statemachine.TransitionDef{From: StatusCanceled, To: StatusCanceled, Event: EventCancel},
		statemachine.TransitionDef{
			From: StatusActive, To: StatusExpired, Event: EventExpire,
			Guards:  []statemachine.Guard{isDue},
			Actions: []statemachine.Action{s.releasePin, s.stopRenewal, s.persist},
		},
	)

	// A returning subscriber's row goes back to pending for the next checkout.
	return statemachine.MustNew(
		statemachine.WithTransitions(defs),
		statemachine.WithTransition(StatusCanceled, StatusPending, EventReopen,
			statemachine.WithActions(s.resetPeriod, s.persist)),
		statemachine.WithTransition(StatusExpired, StatusPending, EventReopen,
			statemachine.WithActions(s.resetPeriod, s.persist)),
		statemachine.WithTransition(StatusActive, StatusPending, EventReopen,
			statemachine.WithGuard(isLapsed),
			statemachine.WithActions(s.releasePin, s.resetPeriod, s.persist)),
	)
}

// isLapsed lets an active row whose period ran out before the expiry sweep
// reached it be reopened.
func isLapsed(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	c, err := payloadOf(data)
	if err != nil {
		return false
	}
	return !c.sub.IsActiveAt(c.now)
}

func isDue(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	c, err := payloadOf(data)
	if err != nil {
		return false
	}
	return c.force || !c.sub.EndDate.After(c.now)
}

func (s *service) startPeriod(_ context.Context, from, _ statemachine.State, _ statemachine.Event, data any) error {
	c, err := payloadOf(data)
	if err != nil {
		return err
	}
	if c.plan == nil {
		return ErrPlanRequired
	}

	days := c.plan.DurationDays
	if days <= 0 {
		days = DefaultDurationDays
	}
	c.sub.StartDate = c.now
	c.sub.EndDate = c.now.AddDate(0, 0, days)

	c.action = ActionActive
	if from == StatusActive {
		c.action = ActionRenewed
	}
	c.desc = fmt.Sprintf("Subscription activated on plan %q until %s", c.plan.Name, c.sub.EndDate.Format(time.DateOnly))
	c.with("plan_id", c.plan.ID.String())
	c.with("duration_days", days)
	return nil
}

func (s *service) extendPeriod(_ context.Context, from, _ statemachine.State, _ statemachine.Event, data any) error {
	c, err := payloadOf(data)
	if err != nil {
		return err
	}
	if c.days <= 0 {
		return ErrInvalidDays
	}

	if from == StatusActive {
		c.sub.EndDate = c.sub.EndDate.AddDate(0, 0, c.days)
		c.action = ActionRenewed
		c.desc = fmt.Sprintf("Subscription renewed for %d days until %s", c.days, c.sub.EndDate.Format(time.DateOnly))
	} else {
		c.sub.StartDate = c.now
		c.sub.EndDate = c.now.AddDate(0, 0, c.days)
		c.action = ActionActive
		c.desc = fmt.Sprintf("Subscription activated for %d days until %s", c.days, c.sub.EndDate.Format(time.DateOnly))
	}
	c.with("days", c.days)
	return nil
}

func (s *service) resetPeriod(_ context.Context, from, _ statemachine.State, _ statemachine.Event, data any) error {
	c, err := payloadOf(data)
	if err != nil {
		return err
	}
	if c.plan == nil {
		return ErrPlanRequired
	}

	c.sub.PlanID = &c.plan.ID
	c.sub.StartDate = time.Time{}
	c.sub.EndDate = time.Time{}
	c.sub.AutoRenew = false

	c.action = ActionCreated
	c.desc = fmt.Sprintf("Subscription reopened from %s for plan %q", from.Name(), c.plan.Name)
	c.with("plan_id", c.plan.ID.String())
	return nil
}

func (s *service) stopRenewal(_ context.Context, _, to statemachine.State, _ statemachine.Event, data any) error {
	c, err := payloadOf(data)
	if err != nil {
		return err
	}
	c.sub.AutoRenew = false

	switch to {
	case StatusExpired:
		c.action = ActionExpired
		c.desc = "Subscription expired"
	default:
		c.action = ActionCancel
		c.desc = "Subscription canceled by user"
		if c.initiator == InitiatorProvider {
			c.action = ActionCanceled
			c.desc = "Subscription canceled by billing provider"
		} else if c.initiator == InitiatorAdmin {
			c.desc = "Subscription canceled by administrator"
		}
	}
	return nil
}

// releasePin drops the owner's pinned post, logging the unpin before the row goes away.
func (s *service) releasePin(ctx context.Context, _, _ statemachine.State, _ statemachine.Event, data any) error {
	c, err := payloadOf(data)
	if err != nil {
		return err
	}
	removed, err := s.removePin(ctx, c.sub, c.now, "subscription no longer active")
	if err != nil {
		return err
	}
	if removed != nil {
		c.with("unpinned_post_id", removed.PostID.String())
	}
	return nil
}

func (s *service) persist(ctx context.Context, from, to statemachine.State, _ statemachine.Event, data any) error {
	c, err := payloadOf(data)
	if err != nil {
		return err
	}

	c.sub.Status = to.(Status)
	c.sub.UpdatedAt = c.now
	if err := s.store.UpdateSubscription(ctx, c.sub); err != nil {
		return err
	}

	meta := map[string]any{
		"from_status": from.Name(),
		"to_status":   to.Name(),
	}
	maps.Copy(meta, c.meta)

	return s.store.AppendHistory(ctx, &HistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: c.sub.ID,
		Action:         c.action,
		Description:    c.desc,
		Metadata:       meta,
		CreatedAt:      c.now,
	})
}
