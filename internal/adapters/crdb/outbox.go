package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-bookings/internal/domain"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   int64
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

func newNotificationRecord(n domain.Notification) (OutboxRecord, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return OutboxRecord{}, errors.Wrapf(err, "encode %s notification", n.Kind)
	}
	id := uuid.New()
	return OutboxRecord{
		ID:            id,
		AggregateType: "event",
		AggregateID:   n.EventID,
		EventType:     string(n.Kind),
		Payload:       payload,
		DedupeKey:     id.String(),
	}, nil
}

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, string(record.Payload), record.DedupeKey)
	return errors.Wrap(err, "insert outbox")
}

// DrainOutbox locks up to limit NEW records, hands them to publish and marks the ids
// publish returns as PUBLISHED, all in one transaction. Records left out stay NEW.
func (r *Repository) DrainOutbox(ctx context.Context, limit int, publish func(ctx context.Context, records []OutboxRecord) []uuid.UUID) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json::TEXT, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, errors.Wrap(err, "select outbox")
	}
	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		var payload string
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scan outbox")
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "read outbox")
	}
	if len(records) == 0 {
		return 0, nil
	}

	published := publish(ctx, records)
	now := time.Now().UTC()
	for _, id := range published {
		_, err := tx.Exec(ctx, `
			UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
		`, id, now)
		if err != nil {
			return 0, errors.Wrap(err, "mark published")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit outbox")
	}
	return len(published), nil
}
