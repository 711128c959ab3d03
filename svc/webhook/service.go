package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/logger"
	"github.com/dmitrymomot/pinboard/pkg/metrics"
	"github.com/dmitrymomot/pinboard/svc/payment"
	"github.com/dmitrymomot/pinboard/svc/subscription"
)

// Service defines the webhook reconciliation pipeline.
type Service interface {
	// Ingest verifies, stores and processes a delivery. A repeated delivery
	// is reported as Duplicate with a nil error.
	Ingest(ctx context.Context, provider string, payload []byte, header http.Header) (IngestResult, error)
	// Process applies a stored event and records the outcome on it.
	// Only failures to record the outcome are returned.
	Process(ctx context.Context, event *Event) error
	RetryFailed(ctx context.Context) (RetryResult, error)
	Cleanup(ctx context.Context) (int, error)
	Providers() []string
}

type service struct {
	store      Store
	tx         Transactor
	payments   payment.Service
	subs       subscription.Service
	providers  map[string]Provider
	retention  time.Duration
	retryBatch int
	now        func() time.Time
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewService creates a webhook Service. Providers are registered with WithProvider.
// Panics if a required dependency is nil.
func NewService(store Store, tx Transactor, payments payment.Service, subs subscription.Service, opts ...ServiceOption) Service {
	if store == nil {
		panic("webhook: Store is required")
	}
	if tx == nil {
		panic("webhook: Transactor is required")
	}
	if payments == nil {
		panic("webhook: payment.Service is required")
	}
	if subs == nil {
		panic("webhook: subscription.Service is required")
	}

	s := &service{
		store:      store,
		tx:         tx,
		payments:   payments,
		subs:       subs,
		providers:  make(map[string]Provider),
		retention:  DefaultRetention,
		retryBatch: DefaultRetryBatch,
		now:        func() time.Time { return time.Now().UTC() },
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("webhook"))

	return s
}

func (s *service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *service) Ingest(ctx context.Context, providerName string, payload []byte, header http.Header) (IngestResult, error) {
	p, ok := s.providers[providerName]
	if !ok {
		return IngestResult{}, ErrUnknownProvider
	}

	if err := p.Verify(ctx, payload, header); err != nil {
		s.metrics.WebhookEvent(providerName, "rejected")
		s.log.WarnContext(ctx, "webhook rejected", logger.Provider(providerName), logger.Error(err))
		if !errors.Is(err, ErrInvalidSignature) {
			err = fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return IngestResult{}, err
	}

	env, err := p.Parse(payload)
	if err != nil {
		s.metrics.WebhookEvent(providerName, "malformed")
		if !errors.Is(err, ErrMalformedPayload) {
			err = fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return IngestResult{}, err
	}

	now := s.now()
	event := &Event{
		ID:        uuid.New(),
		Provider:  providerName,
		EventID:   env.EventID,
		EventType: env.EventType,
		Payload:   slices.Clone(payload),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The unique (provider, event id) constraint is the dedup signal.
	if err := s.store.CreateEvent(ctx, event); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			s.metrics.WebhookEvent(providerName, "duplicate")
			s.log.WarnContext(ctx, "duplicate webhook delivery absorbed",
				logger.Provider(providerName), logger.EventID(env.EventID), logger.EventType(env.EventType))
			return IngestResult{Duplicate: true}, nil
		}
		return IngestResult{}, apperr.Internal("webhook: store event", err)
	}

	if err := s.Process(ctx, event); err != nil {
		return IngestResult{Event: event}, err
	}
	return IngestResult{Event: event}, nil
}

func (s *service) Process(ctx context.Context, event *Event) error {
	log := s.log.With(
		logger.Provider(event.Provider),
		logger.EventID(event.EventID),
		logger.EventType(event.EventType),
	)

	p, ok := s.providers[event.Provider]
	if !ok {
		return s.fail(ctx, log, event, ErrUnknownProvider)
	}
	n, err := p.Decode(event.EventType, event.Payload)
	if err != nil {
		return s.fail(ctx, log, event, err)
	}
	if n.Kind == KindNone {
		return s.finish(ctx, log, event, StatusIgnored, "unhandled event type")
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.apply(ctx, n); err != nil {
			return err
		}
		done := *event
		s.settle(&done, StatusProcessed, "")
		if err := s.store.UpdateEvent(ctx, &done); err != nil {
			return err
		}
		*event = done
		return nil
	})
	switch {
	case err == nil:
		s.metrics.WebhookEvent(event.Provider, string(StatusProcessed))
		log.InfoContext(ctx, "webhook event processed", slog.String("kind", string(n.Kind)))
		return nil
	case errors.Is(err, ErrStale):
		return s.finish(ctx, log, event, StatusIgnored, err.Error())
	default:
		return s.fail(ctx, log, event, err)
	}
}

// RetryFailed reprocesses failed events inside the retention window, least
// recently attempted first. Each attempt bumps updated_at, so events that keep
// failing rotate behind the rest of the backlog.
func (s *service) RetryFailed(ctx context.Context) (RetryResult, error) {
	var res RetryResult

	since := s.now().Add(-s.retention)
	events, err := s.store.ListFailedSince(ctx, since, s.retryBatch)
	if err != nil {
		return res, apperr.Internal("webhook: list failed", err)
	}

	for i := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ev := &events[i]
		res.Attempted++
		if err := s.Process(ctx, ev); err != nil {
			return res, err
		}
		if ev.Status == StatusFailed {
			res.Failed++
		} else {
			res.Processed++
		}
	}

	if res.Attempted > 0 {
		s.log.InfoContext(ctx, "webhook retry sweep finished",
			slog.Int("attempted", res.Attempted),
			slog.Int("processed", res.Processed),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// Cleanup deletes processed and ignored events older than the retention window.
func (s *service) Cleanup(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.store.DeleteEventsBefore(ctx, []Status{StatusProcessed, StatusIgnored}, cutoff)
	if err != nil {
		return 0, apperr.Internal("webhook: cleanup", err)
	}
	if n > 0 {
		s.log.InfoContext(ctx, "old webhook events removed", logger.Count(n), slog.Time("before", cutoff))
	}
	return n, nil
}

func (s *service) apply(ctx context.Context, n *Notification) error {
	switch n.Kind {
	case KindPaymentProcessing, KindPaymentSucceeded, KindPaymentFailed, KindPaymentCanceled:
		return s.applyPayment(ctx, n)
	case KindRefundSucceeded, KindRefundFailed:
		return s.applyRefund(ctx, n)
	case KindSubscriptionCanceled:
		_, err := s.subs.CancelByProviderRef(ctx, n.SubscriptionRef)
		if errors.Is(err, subscription.ErrInvalidState) {
			return fmt.Errorf("%w: %v", ErrStale, err)
		}
		return err
	}
	return fmt.Errorf("unsupported notification kind %q", n.Kind)
}

func (s *service) applyPayment(ctx context.Context, n *Notification) error {
	p, err := s.findPayment(ctx, n)
	if err != nil {
		return err
	}

	ref := payment.Ref{IntentID: n.IntentID, SessionID: n.SessionID, CustomerID: n.CustomerID}
	if p, err = s.payments.Attach(ctx, p.ID, ref); err != nil {
		return err
	}
	if n.SubscriptionRef != "" && p.SubscriptionID != nil {
		if err := s.subs.LinkProviderSubscription(ctx, *p.SubscriptionID, n.SubscriptionRef); err != nil {
			return err
		}
	}

	switch n.Kind {
	case KindPaymentProcessing:
		_, err = s.payments.MarkProcessing(ctx, p.ID)
	case KindPaymentSucceeded:
		if p.IsPending() {
			if _, err := s.payments.RecordAttempt(ctx, payment.AttemptParams{
				PaymentID: p.ID,
				ChargeID:  n.ChargeID,
				Status:    payment.StatusSucceeded,
			}); err != nil {
				return err
			}
		}
		_, err = s.payments.MarkSucceeded(ctx, p.ID)
	case KindPaymentFailed:
		if p.IsPending() {
			if _, err := s.payments.RecordAttempt(ctx, payment.AttemptParams{
				PaymentID:    p.ID,
				ChargeID:     n.ChargeID,
				Status:       payment.StatusFailed,
				ErrorMessage: n.ErrorMessage,
			}); err != nil {
				return err
			}
		}
		_, err = s.payments.MarkFailed(ctx, p.ID, n.ErrorMessage)
	case KindPaymentCanceled:
		_, err = s.payments.Cancel(ctx, p.ID)
	}

	if errors.Is(err, payment.ErrInvalidTransition) {
		return fmt.Errorf("%w: %v", ErrStale, err)
	}
	return err
}

func (s *service) applyRefund(ctx context.Context, n *Notification) error {
	r, err := s.findRefund(ctx, n)
	if err != nil {
		return err
	}

	if n.Kind == KindRefundSucceeded {
		_, err = s.payments.ConfirmRefund(ctx, r.ID, n.ProviderRefundID)
	} else {
		_, err = s.payments.FailRefund(ctx, r.ID, n.ErrorMessage)
	}
	if errors.Is(err, payment.ErrInvalidTransition) {
		return fmt.Errorf("%w: %v", ErrStale, err)
	}
	return err
}

func (s *service) findPayment(ctx context.Context, n *Notification) (*payment.Payment, error) {
	if n.PaymentID != nil {
		return s.payments.Get(ctx, *n.PaymentID)
	}
	return s.payments.FindByProviderRef(ctx, payment.Ref{IntentID: n.IntentID, SessionID: n.SessionID})
}

func (s *service) findRefund(ctx context.Context, n *Notification) (*payment.Refund, error) {
	if n.RefundID != nil {
		return s.payments.GetRefund(ctx, *n.RefundID)
	}
	return s.payments.FindRefundByProviderID(ctx, n.ProviderRefundID)
}

// fail records cause on the event outside any transaction so the failure
// survives the rollback of the processing attempt.
func (s *service) fail(ctx context.Context, log *slog.Logger, event *Event, cause error) error {
	s.metrics.WebhookEvent(event.Provider, string(StatusFailed))
	log.WarnContext(ctx, "webhook event processing failed", logger.Error(cause))
	return s.record(ctx, event, StatusFailed, cause.Error())
}

func (s *service) finish(ctx context.Context, log *slog.Logger, event *Event, status Status, msg string) error {
	s.metrics.WebhookEvent(event.Provider, string(status))
	log.InfoContext(ctx, "webhook event ignored", slog.String("reason", msg))
	return s.record(ctx, event, status, msg)
}

func (s *service) record(ctx context.Context, event *Event, status Status, msg string) error {
	s.settle(event, status, msg)
	if err := s.store.UpdateEvent(ctx, event); err != nil {
		return apperr.Internal("webhook: record outcome", err)
	}
	return nil
}

func (s *service) settle(event *Event, status Status, msg string) {
	now := s.now()
	event.Status = status
	event.ErrorMessage = msg
	event.UpdatedAt = now
	if status == StatusFailed {
		event.ProcessedAt = nil
		return
	}
	event.ProcessedAt = &now
}

func uuidFrom(v any) *uuid.UUID {
	str, ok := v.(string)
	if !ok || str == "" {
		return nil
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return nil
	}
	return &id
}
