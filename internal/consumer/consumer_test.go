package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentinal-relay/internal/broker"
	domainoutbox "sentinal-relay/internal/domain/outbox"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/outbox"
	"sentinal-relay/internal/payload"
	"sentinal-relay/internal/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type delivery struct {
	scope  string
	target string
	raw    string
}

type recordingFanout struct {
	mu    sync.Mutex
	got   []delivery
	panic bool
}

func (f *recordingFanout) BroadcastToUser(userID string, msg []byte) int {
	return f.record("user", userID, msg)
}

func (f *recordingFanout) BroadcastToRoom(conversationID string, msg []byte) int {
	return f.record("room", conversationID, msg)
}

func (f *recordingFanout) record(scope, target string, msg []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		f.panic = false
		panic("socket write exploded")
	}
	f.got = append(f.got, delivery{scope: scope, target: target, raw: string(msg)})
	return 1
}

func (f *recordingFanout) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.got...)
}

type failingDedup struct{}

func (failingDedup) MarkProcessed(ctx context.Context, token string) (bool, error) {
	return false, errors.New("redis down")
}

func newDedup(t *testing.T) *redis.DedupStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewDedupStore(client)
}

func buildMessage(t *testing.T, eventType events.EventType, aggregateID, key string) broker.Message {
	t.Helper()
	data := payload.NewMap()
	data.Set("messageId", payload.String(key))
	rec := domainoutbox.NewRecord(eventType, aggregateID, key, data, time.Now())
	msg, err := outbox.BuildMessage(*rec, events.NewTopicResolver("message-events", "user-events"), time.Now())
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	return msg
}

func TestReplayDeliversOnce(t *testing.T) {
	fan := &recordingFanout{}
	c := NewMessageConsumer("message-events", newDedup(t), fan, nil, zap.NewNop())
	msg := buildMessage(t, events.MessageSent, "conv-1", "msg-1")

	for i := 0; i < 3; i++ {
		if err := c.Handle(context.Background(), msg); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	got := fan.deliveries()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].scope != "room" || got[0].target != "conv-1" || got[0].raw != string(msg.Value) {
		t.Fatalf("unexpected delivery %+v", got[0])
	}
}

func TestDedupFallsBackToPayloadToken(t *testing.T) {
	fan := &recordingFanout{}
	c := NewUserConsumer("user-events", newDedup(t), fan, nil, zap.NewNop())

	msg := buildMessage(t, events.CallEnded, "user-2", "call-1:CALL_ENDED:user-2")
	msg.Headers = nil
	_ = c.Handle(context.Background(), msg)
	_ = c.Handle(context.Background(), msg)

	top := broker.Message{Value: []byte(`{"eventType":"FRIEND_REQUEST","id":"user-3","timestamp":1,"messageId":"fr-1"}`)}
	_ = c.Handle(context.Background(), top)
	_ = c.Handle(context.Background(), top)

	got := fan.deliveries()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].target != "user-2" || got[1].target != "user-3" {
		t.Fatalf("unexpected targets %+v", got)
	}
}

func TestDedupFailureStillDelivers(t *testing.T) {
	fan := &recordingFanout{}
	c := NewUserConsumer("user-events", failingDedup{}, fan, nil, zap.NewNop())
	msg := buildMessage(t, events.CallMissed, "user-1", "k")

	_ = c.Handle(context.Background(), msg)
	_ = c.Handle(context.Background(), msg)
	if n := len(fan.deliveries()); n != 2 {
		t.Fatalf("expected at-least-once delivery, got %d", n)
	}
}

func TestMalformedAndUnknownMessagesDropped(t *testing.T) {
	fan := &recordingFanout{}
	c := NewMessageConsumer("message-events", newDedup(t), fan, nil, zap.NewNop())

	for _, raw := range []string{
		`not json`,
		`{"id":"conv-1","data":{}}`,
		`{"eventType":"MESSAGE_SENT","data":{}}`,
		`{"eventType":"SOMETHING_ELSE","id":"conv-1"}`,
		`{"eventType":"CALL_ENDED","id":"user-1"}`,
	} {
		if err := c.Handle(context.Background(), broker.Message{Value: []byte(raw)}); err != nil {
			t.Fatalf("handle %q returned %v", raw, err)
		}
	}
	if n := len(fan.deliveries()); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}

	good := buildMessage(t, events.MessageSeen, "conv-1", "seen-1")
	_ = c.Handle(context.Background(), good)
	if n := len(fan.deliveries()); n != 1 {
		t.Fatalf("consumer stalled after bad messages: %d deliveries", n)
	}
}

func TestNumericAggregateID(t *testing.T) {
	fan := &recordingFanout{}
	c := NewMessageConsumer("message-events", nil, fan, nil, zap.NewNop())

	_ = c.Handle(context.Background(), broker.Message{Value: []byte(`{"eventType":"MESSAGE_DELETED","id":42,"timestamp":1}`)})
	got := fan.deliveries()
	if len(got) != 1 || got[0].target != "42" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
}

func TestPanicInDispatchIsContained(t *testing.T) {
	fan := &recordingFanout{panic: true}
	c := NewUserConsumer("user-events", newDedup(t), fan, nil, zap.NewNop())

	if err := c.Handle(context.Background(), buildMessage(t, events.CallInitiated, "user-1", "a")); err != nil {
		t.Fatalf("panic leaked as error: %v", err)
	}
	if err := c.Handle(context.Background(), buildMessage(t, events.CallInitiated, "user-1", "b")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := len(fan.deliveries()); n != 1 {
		t.Fatalf("expected the next message to be delivered, got %d", n)
	}
}

func TestRunOverMemoryBroker(t *testing.T) {
	b := broker.NewMemory()
	fan := &recordingFanout{}
	dedup := newDedup(t)
	msgConsumer := NewMessageConsumer("message-events", dedup, fan, nil, zap.NewNop())
	userConsumer := NewUserConsumer("user-events", dedup, fan, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, c := range []*Consumer{msgConsumer, userConsumer} {
		wg.Add(1)
		go func(c *Consumer) {
			defer wg.Done()
			if err := c.Run(ctx, b); err != nil {
				t.Errorf("run: %v", err)
			}
		}(c)
	}
	deadline := time.Now().Add(time.Second)
	for b.Subscribers("message-events") != 1 || b.Subscribers("user-events") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("consumers did not subscribe")
		}
		time.Sleep(time.Millisecond)
	}

	for _, msg := range []broker.Message{
		buildMessage(t, events.MessageSent, "conv-9", "m-1"),
		buildMessage(t, events.CallAnswered, "user-7", "c-1:CALL_ANSWERED:user-7"),
		buildMessage(t, events.MessageSent, "conv-9", "m-1"),
	} {
		if err := b.Publish(context.Background(), msg); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	cancel()
	wg.Wait()

	got := fan.deliveries()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %+v", got)
	}
	if got[0].scope != "room" || got[1].scope != "user" || got[1].target != "user-7" {
		t.Fatalf("unexpected routing %+v", got)
	}
}
