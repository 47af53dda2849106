package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"sentinal-relay/internal/broker"
	"sentinal-relay/internal/domain/outbox"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/payload"
	"sentinal-relay/internal/repository/memory"
)

var topics = events.NewTopicResolver("message-events", "user-events")

func newProcessor(store *memory.Store, b broker.Publisher) *Processor {
	p := NewProcessor(store.Outbox(), b, topics, 100, time.Second, nil, nil)
	p.clock = func() time.Time { return time.UnixMilli(1700000000000) }
	return p
}

func enqueue(t *testing.T, store *memory.Store, et events.EventType, aggregate, key string, at time.Time) *outbox.Record {
	t.Helper()
	data := payload.NewMap().Set("messageId", payload.String("m-"+aggregate))
	rec := outbox.NewRecord(et, aggregate, key, data, at)
	if err := store.Outbox().Enqueue(context.Background(), rec); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return rec
}

func TestPublishPendingRoutesAndMarksSent(t *testing.T) {
	store := memory.NewStore()
	b := broker.NewMemory()
	base := time.Now()

	msgRec := enqueue(t, store, events.MessageSent, "conv-1", "msg-key", base)
	userRec := enqueue(t, store, events.CallEnded, "user-1", "", base.Add(time.Millisecond))

	res, err := newProcessor(store, b).PublishPending(context.Background())
	if err != nil {
		t.Fatalf("PublishPending: %v", err)
	}
	if res.Sent != 2 {
		t.Fatalf("sent = %d, want 2", res.Sent)
	}

	published := b.Published()
	if published[0].Topic != "message-events" || published[1].Topic != "user-events" {
		t.Fatalf("unexpected routing: %s, %s", published[0].Topic, published[1].Topic)
	}
	if published[0].Key != "msg-key" || published[0].Header(events.HeaderMessageID) != "msg-key" {
		t.Fatalf("key/header mismatch: %+v", published[0])
	}
	if published[1].Key != userRec.ID.String() {
		t.Fatalf("default key should be record id, got %s", published[1].Key)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(published[0].Value, &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if string(env["eventType"]) != `"MESSAGE_SENT"` || string(env["id"]) != `"conv-1"` || string(env["timestamp"]) != "1700000000000" {
		t.Fatalf("unexpected envelope %s", published[0].Value)
	}

	for _, rec := range store.Records() {
		if rec.Status != outbox.StatusSent || rec.SentAt == nil {
			t.Fatalf("record %s not SENT: %+v", rec.ID, rec)
		}
	}
	if published[0].Key != msgRec.Key() {
		t.Fatalf("message record key = %s", published[0].Key)
	}
}

func TestFailedPublishKeepsRecordPendingAndCountsAttempts(t *testing.T) {
	store := memory.NewStore()
	b := broker.NewMemory()
	b.FailPublishes(errors.New("broker unreachable"))
	rec := enqueue(t, store, events.UserOnline, "user-1", "", time.Now())
	p := newProcessor(store, b)

	for i := 1; i <= 3; i++ {
		res, err := p.PublishPending(context.Background())
		if err != nil {
			t.Fatalf("PublishPending: %v", err)
		}
		if res.Retried != 1 {
			t.Fatalf("round %d: retried = %d", i, res.Retried)
		}
		got := store.Records()[0]
		if got.Status != outbox.StatusPending || got.Attempt != i {
			t.Fatalf("round %d: status=%s attempt=%d", i, got.Status, got.Attempt)
		}
		if got.LastAttemptAt == nil || got.LastError == "" {
			t.Fatalf("round %d: attempt metadata missing", i)
		}
	}

	b.FailPublishes(nil)
	if _, err := p.PublishPending(context.Background()); err != nil {
		t.Fatalf("PublishPending: %v", err)
	}
	got := store.Records()[0]
	if got.ID != rec.ID || got.Status != outbox.StatusSent || got.Attempt != 3 {
		t.Fatalf("expected SENT after recovery, got %+v", got)
	}
}

func TestUndecodablePayloadIsParkedWithoutStoppingBatch(t *testing.T) {
	store := memory.NewStore()
	b := broker.NewMemory()
	base := time.Now()

	bad := outbox.NewRecord(events.MessageSent, "c1", "", nil, base)
	bad.PayloadErr = errors.New("bad json")
	if err := store.Outbox().Enqueue(context.Background(), bad); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	enqueue(t, store, events.MessageSent, "c2", "", base.Add(time.Millisecond))

	res, err := newProcessor(store, b).PublishPending(context.Background())
	if err != nil {
		t.Fatalf("PublishPending: %v", err)
	}
	if res.Parked != 1 || res.Sent != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	recs := store.Records()
	if recs[0].Status != outbox.StatusFailed || recs[1].Status != outbox.StatusSent {
		t.Fatalf("statuses = %s, %s", recs[0].Status, recs[1].Status)
	}
}

func TestRunnerPrunesWhenRetentionConfigured(t *testing.T) {
	store := memory.NewStore()
	b := broker.NewMemory()
	enqueue(t, store, events.MessageSent, "c1", "", time.Now())
	p := NewProcessor(store.Outbox(), b, topics, 100, time.Second, nil, nil)

	runner := NewRunner(p, store.Outbox(), 5*time.Millisecond, time.Nanosecond, 5*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	deadline := time.Now().Add(150 * time.Millisecond)
	go func() { _ = runner.Run(ctx) }()
	for time.Now().Before(deadline) {
		if len(b.Published()) == 1 && len(store.Records()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("published=%d remaining=%d", len(b.Published()), len(store.Records()))
}
