package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain/call"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/outbox"
)

// OutboxWriter appends records. Inside a Tx the write commits or rolls back
// with the rest of the unit of work.
type OutboxWriter interface {
	Enqueue(ctx context.Context, rec *outbox.Record) error
}

type OutboxRepository interface {
	OutboxWriter

	// DrainPending returns up to limit PENDING records, oldest first.
	DrainPending(ctx context.Context, limit int) ([]outbox.Record, error)
	// MarkSent moves a PENDING record to SENT. It reports false when the
	// record was no longer PENDING.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// MarkAttemptFailed bumps attempt and keeps the record PENDING.
	MarkAttemptFailed(ctx context.Context, id uuid.UUID, at time.Time, errMsg string) error
	// MarkFailed parks a record that can never be published.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	// PruneSent deletes SENT records sent before olderThan.
	PruneSent(ctx context.Context, olderThan time.Time) (int64, error)
}

type CallRepository interface {
	Create(ctx context.Context, c *call.Call) error
	GetByID(ctx context.Context, id uuid.UUID) (call.Call, error)
	// UpdateStatus persists c only if the stored status still equals expected.
	// It returns ErrConflict when another writer got there first.
	UpdateStatus(ctx context.Context, c *call.Call, expected call.Status) error
	// FindActiveForUsers returns active calls where any of userIDs is caller or receiver.
	FindActiveForUsers(ctx context.Context, userIDs ...uuid.UUID) ([]call.Call, error)
	// ListRinging returns INITIATED or RINGING calls started before cutoff.
	ListRinging(ctx context.Context, startedBefore time.Time, limit int) ([]call.Call, error)
	History(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID, page, limit int) ([]call.Call, int64, error)
}

type ConversationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Calls() CallRepository
	Outbox() OutboxWriter
}

// UnitOfWork runs fn in a single transaction. Returning an error from fn
// rolls back every write made through tx.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
