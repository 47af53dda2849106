package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain/call"
	sentinal_errors "sentinal-relay/pkg/errors"
)

const callColumns = `id, conversation_id, caller_id, receiver_id, type, status, started_at,
        answered_at, ended_at, ended_by, end_reason, duration_seconds`

type callRepository struct {
	db DBTX
}

func NewCallRepository(db DBTX) CallRepository {
	return &callRepository{db: db}
}

func (r *callRepository) Create(ctx context.Context, c *call.Call) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO calls (`+callColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    `,
		c.ID,
		c.ConversationID,
		c.CallerID,
		c.ReceiverID,
		string(c.Type),
		string(c.Status),
		c.StartedAt,
		c.AnsweredAt,
		c.EndedAt,
		nullUUID(c.EndedBy),
		c.EndReason,
		c.DurationSeconds,
	)
	if isUniqueViolation(err) {
		return sentinal_errors.ErrAlreadyExists
	}
	return err
}

func (r *callRepository) GetByID(ctx context.Context, id uuid.UUID) (call.Call, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return call.Call{}, sentinal_errors.ErrNotFound
	}
	return c, err
}

func (r *callRepository) UpdateStatus(ctx context.Context, c *call.Call, expected call.Status) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE calls
        SET status = $1, answered_at = $2, ended_at = $3, ended_by = $4, end_reason = $5, duration_seconds = $6
        WHERE id = $7 AND status = $8
    `,
		string(c.Status),
		c.AnsweredAt,
		c.EndedAt,
		nullUUID(c.EndedBy),
		c.EndReason,
		c.DurationSeconds,
		c.ID,
		string(expected),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinal_errors.ErrConflict
	}
	return nil
}

func (r *callRepository) FindActiveForUsers(ctx context.Context, userIDs ...uuid.UUID) ([]call.Call, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(userIDs)+3)
	for _, s := range call.ActiveStatuses {
		args = append(args, string(s))
	}
	for _, id := range userIDs {
		args = append(args, id)
	}
	statuses := buildPlaceholders(1, len(call.ActiveStatuses))
	users := buildPlaceholders(len(call.ActiveStatuses)+1, len(userIDs))

	rows, err := r.db.QueryContext(ctx, `
        SELECT `+callColumns+`
        FROM calls
        WHERE status IN (`+statuses+`)
          AND (caller_id IN (`+users+`) OR receiver_id IN (`+users+`))
        ORDER BY started_at ASC
        FOR UPDATE
    `, args...)
	if err != nil {
		return nil, err
	}
	return collectCalls(rows)
}

func (r *callRepository) ListRinging(ctx context.Context, startedBefore time.Time, limit int) ([]call.Call, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+callColumns+`
        FROM calls
        WHERE status IN ($1, $2) AND started_at < $3
        ORDER BY started_at ASC
        LIMIT $4
    `, string(call.StatusInitiated), string(call.StatusRinging), startedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectCalls(rows)
}

func (r *callRepository) History(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID, page, limit int) ([]call.Call, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	where := `(caller_id = $1 OR receiver_id = $1)`
	args := []interface{}{userID}
	if conversationID != nil {
		where += ` AND conversation_id = $2`
		args = append(args, *conversationID)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, (page-1)*limit)
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+callColumns+`
        FROM calls
        WHERE `+where+`
        ORDER BY started_at DESC
        LIMIT `+buildPlaceholders(n+1, 1)+` OFFSET `+buildPlaceholders(n+2, 1), args...)
	if err != nil {
		return nil, 0, err
	}
	calls, err := collectCalls(rows)
	return calls, total, err
}

func collectCalls(rows *sql.Rows) ([]call.Call, error) {
	defer rows.Close()
	var calls []call.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return calls, nil
}

func scanCall(row rowScanner) (call.Call, error) {
	var (
		c          call.Call
		callType   string
		status     string
		answeredAt sql.NullTime
		endedAt    sql.NullTime
		endedBy    uuid.NullUUID
		duration   sql.NullInt64
	)
	if err := row.Scan(
		&c.ID,
		&c.ConversationID,
		&c.CallerID,
		&c.ReceiverID,
		&callType,
		&status,
		&c.StartedAt,
		&answeredAt,
		&endedAt,
		&endedBy,
		&c.EndReason,
		&duration,
	); err != nil {
		return c, err
	}
	c.Type = call.Type(callType)
	c.Status = call.Status(status)
	if answeredAt.Valid {
		c.AnsweredAt = sentinal_errors.TimePtr(answeredAt.Time)
	}
	if endedAt.Valid {
		c.EndedAt = sentinal_errors.TimePtr(endedAt.Time)
	}
	if endedBy.Valid {
		id := endedBy.UUID
		c.EndedBy = &id
	}
	if duration.Valid {
		d := duration.Int64
		c.DurationSeconds = &d
	}
	return c, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
