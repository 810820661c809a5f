package crdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/registration"
)

// MaxOutboxAttempts is how often a record is offered to the relay before
// it is parked as FAILED.
const MaxOutboxAttempts = 10

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	Attempts      int
	DedupeKey     string
}

var _ registration.Outbox = (*eventTx)(nil)

// Enqueue writes notifications to the outbox inside the event transaction.
func (t *eventTx) Enqueue(ctx context.Context, notes []notify.Notification) error {
	for _, n := range notes {
		rec, err := recordFor(n)
		if err != nil {
			return err
		}
		if err := insertOutbox(ctx, t.tx, rec); err != nil {
			return err
		}
	}
	return nil
}

func recordFor(n notify.Notification) (OutboxRecord, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return OutboxRecord{}, err
	}
	aggType, aggID := "registration", n.RegistrationID
	if aggID == uuid.Nil {
		aggType, aggID = "event", n.EventID
	}
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: aggType,
		AggregateID:   aggID,
		EventType:     string(n.Kind),
		Payload:       payload,
		DedupeKey:     fmt.Sprintf("%s:%s:%s:%d", n.Kind, aggID, n.ParticipantID, n.At.UnixNano()),
	}, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// RelayOutbox locks up to limit unpublished records, hands each to publish
// and marks it PUBLISHED on success. A failed record stays NEW with its
// attempt counter bumped until MaxOutboxAttempts. Concurrent relays skip
// each other's rows.
func (s *Store) RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, rec OutboxRecord) error) (published int, err error) {
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		published = 0
		rows, err := tx.Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, attempts, dedupe_key
			FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxRecord, error) {
			var rec OutboxRecord
			err := row.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload,
				&rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.Attempts, &rec.DedupeKey)
			return rec, err
		})
		if err != nil {
			return err
		}

		for _, rec := range records {
			if perr := publish(ctx, rec); perr != nil {
				if err := markAttempt(ctx, tx, rec); err != nil {
					return err
				}
				continue
			}
			if err := markPublished(ctx, tx, rec.ID, time.Now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}

func markPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}

func markAttempt(ctx context.Context, tx pgx.Tx, rec OutboxRecord) error {
	status := "NEW"
	if rec.Attempts+1 >= MaxOutboxAttempts {
		status = "FAILED"
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET attempts = attempts + 1, status = $2 WHERE id = $1
	`, rec.ID, status)
	return err
}

// OldestPending reports the creation time of the oldest unpublished record.
func (s *Store) OldestPending(ctx context.Context) (time.Time, bool, error) {
	var created *time.Time
	err := s.pool.QueryRow(ctx, `SELECT min(created_at) FROM outbox WHERE status = 'NEW'`).Scan(&created)
	if err != nil || created == nil {
		return time.Time{}, false, err
	}
	return *created, true, nil
}
