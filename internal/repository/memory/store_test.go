package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain/call"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/outbox"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"
)

func TestDoRollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		c := &call.Call{ID: uuid.New(), Status: call.StatusInitiated, StartedAt: time.Now()}
		if err := tx.Calls().Create(ctx, c); err != nil {
			return err
		}
		if err := tx.Outbox().Enqueue(ctx, outbox.NewRecord(events.CallInitiated, "u1", "", nil, time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(s.Records()) != 0 {
		t.Fatal("outbox write should be rolled back")
	}
	if len(s.calls) != 0 {
		t.Fatal("call write should be rolled back")
	}
}

func TestOutboxLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	repo := s.Outbox()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	second := outbox.NewRecord(events.MessageSent, "c1", "", nil, base.Add(time.Second))
	first := outbox.NewRecord(events.MessageSent, "c1", "k-first", nil, base)
	_ = repo.Enqueue(ctx, second)
	_ = repo.Enqueue(ctx, first)

	pending, _ := repo.DrainPending(ctx, 10)
	if len(pending) != 2 || pending[0].ID != first.ID {
		t.Fatalf("expected oldest first, got %+v", pending)
	}
	if pending[1].IdempotencyKey != second.ID.String() {
		t.Fatalf("empty key should default to id, got %q", pending[1].IdempotencyKey)
	}

	if err := repo.MarkAttemptFailed(ctx, first.ID, base, "down"); err != nil {
		t.Fatal(err)
	}
	ok, _ := repo.MarkSent(ctx, first.ID, base.Add(time.Minute))
	if !ok {
		t.Fatal("MarkSent from PENDING should succeed")
	}
	if ok, _ := repo.MarkSent(ctx, first.ID, base.Add(time.Minute)); ok {
		t.Fatal("MarkSent should only succeed once")
	}

	recs := s.Records()
	if recs[1].Attempt != 1 || recs[1].Status != outbox.StatusSent {
		t.Fatalf("unexpected record %+v", recs[1])
	}

	n, _ := repo.PruneSent(ctx, base.Add(time.Hour))
	if n != 1 || len(s.Records()) != 1 {
		t.Fatalf("pruned %d, remaining %d", n, len(s.Records()))
	}
}

func TestUpdateStatusIsCompareAndSet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	c := &call.Call{ID: uuid.New(), Status: call.StatusInitiated, StartedAt: time.Now()}
	_ = s.Calls().Create(ctx, c)

	answered := *c
	answered.Status = call.StatusAnswered
	if err := s.Calls().UpdateStatus(ctx, &answered, call.StatusInitiated); err != nil {
		t.Fatalf("first update: %v", err)
	}
	rejected := *c
	rejected.Status = call.StatusRejected
	if err := s.Calls().UpdateStatus(ctx, &rejected, call.StatusInitiated); !errors.Is(err, sentinal_errors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

// Table names live in the SQL repositories only.
func TestDomainTypesCarryNoTableMapping(t *testing.T) {
	type tableNamer interface{ TableName() string }
	for name, v := range map[string]any{
		"call":         call.Call{},
		"outbox":       outbox.Record{},
		"conversation": conversation.Conversation{},
		"participant":  conversation.Participant{},
	} {
		if _, ok := v.(tableNamer); ok {
			t.Errorf("%s still exposes TableName", name)
		}
	}
}
