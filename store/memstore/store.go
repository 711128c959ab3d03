// Package memstore is an in-memory implementation of every repository the
// services need. Transactions are serialized and roll back to a snapshot on
// error, so it keeps the atomicity guarantees the services rely on. Intended
// for tests and local development.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/svc/payment"
	"github.com/dmitrymomot/pinboard/svc/subscription"
	"github.com/dmitrymomot/pinboard/svc/webhook"
)

var (
	_ subscription.Store        = (*Store)(nil)
	_ subscription.PostProvider = (*Store)(nil)
	_ subscription.Transactor   = (*Store)(nil)
	_ payment.Store             = (*Store)(nil)
	_ webhook.Store             = (*Store)(nil)
)

type txKey struct{}

// Store keeps all data behind a single lock. An operation outside InTx is a
// transaction of its own.
type Store struct {
	mu   sync.Mutex
	data *state
}

type state struct {
	plans    map[uuid.UUID]subscription.Plan
	subs     map[uuid.UUID]subscription.Subscription
	pins     map[uuid.UUID]subscription.PinnedPost // keyed by user
	history  []subscription.HistoryEntry
	posts    map[uuid.UUID]subscription.Post
	payments map[uuid.UUID]payment.Payment
	attempts []payment.Attempt
	refunds  []payment.Refund
	events   map[uuid.UUID]webhook.Event
}

func New() *Store {
	return &Store{data: &state{
		plans:    make(map[uuid.UUID]subscription.Plan),
		subs:     make(map[uuid.UUID]subscription.Subscription),
		pins:     make(map[uuid.UUID]subscription.PinnedPost),
		posts:    make(map[uuid.UUID]subscription.Post),
		payments: make(map[uuid.UUID]payment.Payment),
		events:   make(map[uuid.UUID]webhook.Event),
	}}
}

// InTx runs fn with exclusive access. Nested calls join the outer transaction.
// If fn fails every change made inside it is discarded.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// do runs fn under the store lock unless ctx already holds it.
// Single operations validate before mutating, so they need no snapshot.
func (s *Store) do(ctx context.Context, fn func(d *state) error) error {
	if s.inTx(ctx) {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (d *state) clone() *state {
	return &state{
		plans:    maps.Clone(d.plans),
		subs:     maps.Clone(d.subs),
		pins:     maps.Clone(d.pins),
		history:  slices.Clone(d.history),
		posts:    maps.Clone(d.posts),
		payments: maps.Clone(d.payments),
		attempts: slices.Clone(d.attempts),
		refunds:  slices.Clone(d.refunds),
		events:   maps.Clone(d.events),
	}
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
