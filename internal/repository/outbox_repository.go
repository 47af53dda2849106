package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain/outbox"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/payload"
	sentinal_errors "sentinal-relay/pkg/errors"
)

type outboxRepository struct {
	db DBTX
}

func NewOutboxRepository(db DBTX) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Enqueue(ctx context.Context, rec *outbox.Record) error {
	body, err := rec.Payload.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode outbox payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
        INSERT INTO outbox_events (id, idempotency_key, event_type, aggregate_id, payload, status, attempt, last_error, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `,
		rec.ID,
		rec.Key(),
		string(rec.EventType),
		rec.AggregateID,
		string(body),
		string(outbox.StatusPending),
		rec.Attempt,
		rec.LastError,
		rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sentinal_errors.ErrAlreadyExists
	}
	return err
}

func (r *outboxRepository) DrainPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, idempotency_key, event_type, aggregate_id, payload, status, attempt, last_error, created_at, last_attempt_at, sent_at
        FROM outbox_events
        WHERE status = $1
        ORDER BY created_at ASC
        LIMIT $2
    `, string(outbox.StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []outbox.Record
	for rows.Next() {
		rec, err := scanOutboxRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanOutboxRecord(row rowScanner) (outbox.Record, error) {
	var (
		rec           outbox.Record
		eventType     string
		status        string
		body          []byte
		lastAttemptAt sql.NullTime
		sentAt        sql.NullTime
	)
	if err := row.Scan(
		&rec.ID,
		&rec.IdempotencyKey,
		&eventType,
		&rec.AggregateID,
		&body,
		&status,
		&rec.Attempt,
		&rec.LastError,
		&rec.CreatedAt,
		&lastAttemptAt,
		&sentAt,
	); err != nil {
		return rec, err
	}
	rec.EventType = events.EventType(eventType)
	rec.Status = outbox.Status(status)
	if lastAttemptAt.Valid {
		rec.LastAttemptAt = sentinal_errors.TimePtr(lastAttemptAt.Time)
	}
	if sentAt.Valid {
		rec.SentAt = sentinal_errors.TimePtr(sentAt.Time)
	}

	data := payload.NewMap()
	if err := data.UnmarshalJSON(body); err != nil {
		rec.PayloadErr = err
	} else {
		rec.Payload = data
	}
	return rec, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, sent_at = $2, last_attempt_at = $2, last_error = ''
        WHERE id = $3 AND status = $4
    `, string(outbox.StatusSent), at, id, string(outbox.StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *outboxRepository) MarkAttemptFailed(ctx context.Context, id uuid.UUID, at time.Time, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET attempt = attempt + 1, last_attempt_at = $1, last_error = $2
        WHERE id = $3 AND status = $4
    `, at, errMsg, id, string(outbox.StatusPending))
	return err
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE outbox_events
        SET status = $1, last_error = $2, last_attempt_at = now()
        WHERE id = $3 AND status = $4
    `, string(outbox.StatusFailed), errMsg, id, string(outbox.StatusPending))
	return err
}

func (r *outboxRepository) PruneSent(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
        DELETE FROM outbox_events
        WHERE status = $1 AND sent_at < $2
    `, string(outbox.StatusSent), olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
