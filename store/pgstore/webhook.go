package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/pinboard/pkg/pg"
	"github.com/dmitrymomot/pinboard/svc/webhook"
)

const eventColumns = `id, provider, event_id, event_type, payload, status, error_message,
	processed_at, created_at, updated_at`

func scanEvent(row pgx.Row) (*webhook.Event, error) {
	var (
		e      webhook.Event
		status string
	)
	if err := row.Scan(&e.ID, &e.Provider, &e.EventID, &e.EventType, &e.Payload, &status,
		&e.ErrorMessage, &e.ProcessedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = webhook.Status(status)
	return &e, nil
}

// CreateEvent maps the (provider, event_id) unique violation to ErrDuplicateEvent.
func (s *Store) CreateEvent(ctx context.Context, e *webhook.Event) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO webhook_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Provider, e.EventID, e.EventType, e.Payload, string(e.Status),
		e.ErrorMessage, e.ProcessedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) && pg.ConstraintName(err) == "webhook_events_provider_event_id_key" {
			return webhook.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to create webhook event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	e, err := scanEvent(s.db(ctx).QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, webhook.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateEvent(ctx context.Context, e *webhook.Event) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE webhook_events
		SET status = $2, error_message = $3, processed_at = $4, updated_at = $5
		WHERE id = $1`,
		e.ID, string(e.Status), e.ErrorMessage, e.ProcessedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrEventNotFound
	}
	return nil
}

func (s *Store) ListFailedSince(ctx context.Context, since time.Time, limit int) ([]webhook.Event, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events
		WHERE status = 'failed' AND created_at >= $1
		ORDER BY updated_at, created_at
		LIMIT $2`, since, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook events: %w", err)
	}
	defer rows.Close()

	var events []webhook.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}
	return events, nil
}

func (s *Store) DeleteEventsBefore(ctx context.Context, statuses []webhook.Status, before time.Time) (int, error) {
	tag, err := s.db(ctx).Exec(ctx,
		`DELETE FROM webhook_events WHERE status = ANY($1) AND created_at < $2`,
		statusNames(statuses), before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete webhook events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
