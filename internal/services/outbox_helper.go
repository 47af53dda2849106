package services

import (
	"context"
	"fmt"
	"time"

	"sentinal-relay/internal/domain/outbox"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/payload"
	"sentinal-relay/internal/repository"
)

// Field is one payload entry; order is preserved on the wire.
type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// EventRecorder turns domain changes into outbox records written through the
// caller's transaction.
type EventRecorder struct {
	clock func() time.Time
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{clock: time.Now}
}

// Record normalizes fields and enqueues one record. The idempotency key is
// also stored in the payload as messageId so consumers can deduplicate when
// a transport drops headers.
func (r *EventRecorder) Record(ctx context.Context, w repository.OutboxWriter, eventType events.EventType, aggregateID, idempotencyKey string, fields ...Field) error {
	data := payload.NewMap()
	for _, f := range fields {
		if err := data.Put(f.Key, f.Value); err != nil {
			return fmt.Errorf("%s payload: %w", eventType, err)
		}
	}
	rec := outbox.NewRecord(eventType, aggregateID, idempotencyKey, data, r.clock())
	if _, ok := data.Get(events.HeaderMessageID); !ok {
		data.Set(events.HeaderMessageID, payload.String(rec.Key()))
	}
	if err := w.Enqueue(ctx, rec); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
