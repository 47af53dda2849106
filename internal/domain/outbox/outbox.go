package outbox

import (
	"time"

	"sentinal-relay/internal/events"
	"sentinal-relay/internal/payload"

	"github.com/google/uuid"
)

// Status represents the publication state of an outbox record
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Record is an event waiting to be published to the broker
type Record struct {
	ID             uuid.UUID
	IdempotencyKey string
	EventType      events.EventType
	AggregateID    string
	Payload        *payload.Map
	Status         Status
	Attempt        int
	LastError      string
	CreatedAt      time.Time
	LastAttemptAt  *time.Time
	SentAt         *time.Time

	// PayloadErr is set when the stored payload could not be decoded.
	PayloadErr error
}

// NewRecord builds a PENDING record. An empty idempotency key defaults to the record id.
func NewRecord(eventType events.EventType, aggregateID, idempotencyKey string, data *payload.Map, now time.Time) *Record {
	id := uuid.New()
	if idempotencyKey == "" {
		idempotencyKey = id.String()
	}
	if data == nil {
		data = payload.NewMap()
	}
	return &Record{
		ID:             id,
		IdempotencyKey: idempotencyKey,
		EventType:      eventType,
		AggregateID:    aggregateID,
		Payload:        data,
		Status:         StatusPending,
		CreatedAt:      now,
	}
}

// Key returns the idempotency key, falling back to the id for legacy rows.
func (r Record) Key() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return r.ID.String()
}
