package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/svc/webhook"
)

func cloneEvent(e webhook.Event) *webhook.Event {
	e.Payload = slices.Clone(e.Payload)
	e.ProcessedAt = clonePtr(e.ProcessedAt)
	return &e
}

func (s *Store) CreateEvent(ctx context.Context, e *webhook.Event) error {
	return s.do(ctx, func(d *state) error {
		for _, existing := range d.events {
			if existing.Provider == e.Provider && existing.EventID == e.EventID {
				return webhook.ErrDuplicateEvent
			}
		}
		d.events[e.ID] = *cloneEvent(*e)
		return nil
	})
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	var out *webhook.Event
	err := s.do(ctx, func(d *state) error {
		e, ok := d.events[id]
		if !ok {
			return webhook.ErrEventNotFound
		}
		out = cloneEvent(e)
		return nil
	})
	return out, err
}

func (s *Store) UpdateEvent(ctx context.Context, e *webhook.Event) error {
	return s.do(ctx, func(d *state) error {
		if _, ok := d.events[e.ID]; !ok {
			return webhook.ErrEventNotFound
		}
		d.events[e.ID] = *cloneEvent(*e)
		return nil
	})
}

func (s *Store) ListFailedSince(ctx context.Context, since time.Time, limit int) ([]webhook.Event, error) {
	var out []webhook.Event
	err := s.do(ctx, func(d *state) error {
		for _, e := range d.events {
			if e.Status == webhook.StatusFailed && !e.CreatedAt.Before(since) {
				out = append(out, *cloneEvent(e))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b webhook.Event) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *Store) DeleteEventsBefore(ctx context.Context, statuses []webhook.Status, before time.Time) (int, error) {
	var n int
	err := s.do(ctx, func(d *state) error {
		for id, e := range d.events {
			if slices.Contains(statuses, e.Status) && e.CreatedAt.Before(before) {
				delete(d.events, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
