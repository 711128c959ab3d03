package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Transactor runs fn atomically, joining a transaction already carried by ctx.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Store interface {
	// CreateEvent returns ErrDuplicateEvent when (provider, event id) exists.
	CreateEvent(ctx context.Context, e *Event) error
	// GetEvent returns ErrEventNotFound if no row exists.
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	UpdateEvent(ctx context.Context, e *Event) error
	// ListFailedSince returns failed events created at or after since, least
	// recently attempted (updated_at) first.
	ListFailedSince(ctx context.Context, since time.Time, limit int) ([]Event, error)
	DeleteEventsBefore(ctx context.Context, statuses []Status, before time.Time) (int, error)
}

// Provider adapts one payment provider's webhook format.
type Provider interface {
	Name() string
	// Verify authenticates the raw payload with the delivery headers.
	Verify(ctx context.Context, payload []byte, header http.Header) error
	// Parse extracts the envelope needed for deduplication.
	Parse(payload []byte) (Envelope, error)
	// Decode maps a stored payload to a Notification. Unhandled types yield KindNone.
	Decode(eventType string, payload []byte) (*Notification, error)
}
