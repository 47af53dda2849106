// Package memory holds in-process repository implementations for tests and
// single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain/call"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/outbox"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"
)

// Store keeps outbox records, calls and conversations in memory. Do runs
// units of work one at a time and restores the previous state when fn fails.
type Store struct {
	txMu sync.Mutex

	mu            sync.Mutex
	records       []outbox.Record
	calls         map[uuid.UUID]call.Call
	conversations map[uuid.UUID]conversation.Conversation
	enqueueErr    error
}

func NewStore() *Store {
	return &Store{
		calls:         map[uuid.UUID]call.Call{},
		conversations: map[uuid.UUID]conversation.Conversation{},
	}
}

var (
	_ repository.UnitOfWork             = (*Store)(nil)
	_ repository.OutboxRepository       = (*OutboxRepo)(nil)
	_ repository.CallRepository         = (*CallRepo)(nil)
	_ repository.ConversationRepository = (*Store)(nil)
)

func (s *Store) Outbox() *OutboxRepo { return &OutboxRepo{s: s} }
func (s *Store) Calls() *CallRepo    { return &CallRepo{s: s} }

// FailEnqueue makes every Enqueue return err until called with nil.
func (s *Store) FailEnqueue(err error) {
	s.mu.Lock()
	s.enqueueErr = err
	s.mu.Unlock()
}

// PutConversation stores or replaces a conversation.
func (s *Store) PutConversation(c conversation.Conversation) {
	s.mu.Lock()
	s.conversations[c.ID] = c
	s.mu.Unlock()
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return conversation.Conversation{}, sentinal_errors.ErrNotFound
	}
	return c, nil
}

// Records returns every outbox record in insertion order.
func (s *Store) Records() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Record, len(s.records))
	copy(out, s.records)
	return out
}

type memTx struct{ s *Store }

func (t memTx) Calls() repository.CallRepository { return &CallRepo{s: t.s} }
func (t memTx) Outbox() repository.OutboxWriter  { return &OutboxRepo{s: t.s} }

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	records := make([]outbox.Record, len(s.records))
	copy(records, s.records)
	calls := make(map[uuid.UUID]call.Call, len(s.calls))
	for id, c := range s.calls {
		calls[id] = c
	}
	s.mu.Unlock()

	if err := fn(ctx, memTx{s: s}); err != nil {
		s.mu.Lock()
		s.records = records
		s.calls = calls
		s.mu.Unlock()
		return err
	}
	return nil
}

type OutboxRepo struct{ s *Store }

func (r *OutboxRepo) Enqueue(ctx context.Context, rec *outbox.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.enqueueErr != nil {
		return r.s.enqueueErr
	}
	for _, existing := range r.s.records {
		if existing.ID == rec.ID {
			return sentinal_errors.ErrAlreadyExists
		}
	}
	cp := *rec
	cp.IdempotencyKey = rec.Key()
	cp.Status = outbox.StatusPending
	r.s.records = append(r.s.records, cp)
	return nil
}

func (r *OutboxRepo) DrainPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []outbox.Record
	for _, rec := range r.s.records {
		if rec.Status == outbox.StatusPending {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OutboxRepo) update(id uuid.UUID, fn func(rec *outbox.Record) bool) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.records {
		if r.s.records[i].ID == id {
			return fn(&r.s.records[i])
		}
	}
	return false
}

func (r *OutboxRepo) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.update(id, func(rec *outbox.Record) bool {
		if rec.Status != outbox.StatusPending {
			return false
		}
		rec.Status = outbox.StatusSent
		rec.SentAt = sentinal_errors.TimePtr(at)
		rec.LastAttemptAt = sentinal_errors.TimePtr(at)
		rec.LastError = ""
		return true
	}), nil
}

func (r *OutboxRepo) MarkAttemptFailed(ctx context.Context, id uuid.UUID, at time.Time, errMsg string) error {
	r.update(id, func(rec *outbox.Record) bool {
		if rec.Status != outbox.StatusPending {
			return false
		}
		rec.Attempt++
		rec.LastAttemptAt = sentinal_errors.TimePtr(at)
		rec.LastError = errMsg
		return true
	})
	return nil
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	r.update(id, func(rec *outbox.Record) bool {
		if rec.Status != outbox.StatusPending {
			return false
		}
		rec.Status = outbox.StatusFailed
		rec.LastError = errMsg
		rec.LastAttemptAt = sentinal_errors.NowPtr()
		return true
	})
	return nil
}

func (r *OutboxRepo) PruneSent(ctx context.Context, olderThan time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.records[:0]
	var pruned int64
	for _, rec := range r.s.records {
		if rec.Status == outbox.StatusSent && rec.SentAt != nil && rec.SentAt.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	r.s.records = kept
	return pruned, nil
}

type CallRepo struct{ s *Store }

func (r *CallRepo) Create(ctx context.Context, c *call.Call) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.calls[c.ID]; ok {
		return sentinal_errors.ErrAlreadyExists
	}
	r.s.calls[c.ID] = *c
	return nil
}

func (r *CallRepo) GetByID(ctx context.Context, id uuid.UUID) (call.Call, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok {
		return call.Call{}, sentinal_errors.ErrNotFound
	}
	return c, nil
}

func (r *CallRepo) UpdateStatus(ctx context.Context, c *call.Call, expected call.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.calls[c.ID]
	if !ok || stored.Status != expected {
		return sentinal_errors.ErrConflict
	}
	r.s.calls[c.ID] = *c
	return nil
}

func (r *CallRepo) FindActiveForUsers(ctx context.Context, userIDs ...uuid.UUID) ([]call.Call, error) {
	return r.filter(func(c call.Call) bool {
		if !c.Status.Active() {
			return false
		}
		for _, id := range userIDs {
			if c.IsParticipant(id) {
				return true
			}
		}
		return false
	}, false), nil
}

func (r *CallRepo) ListRinging(ctx context.Context, startedBefore time.Time, limit int) ([]call.Call, error) {
	out := r.filter(func(c call.Call) bool {
		return (c.Status == call.StatusInitiated || c.Status == call.StatusRinging) && c.StartedAt.Before(startedBefore)
	}, false)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CallRepo) History(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID, page, limit int) ([]call.Call, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	all := r.filter(func(c call.Call) bool {
		if !c.IsParticipant(userID) {
			return false
		}
		return conversationID == nil || c.ConversationID == *conversationID
	}, true)

	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return []call.Call{}, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *CallRepo) filter(keep func(call.Call) bool, newestFirst bool) []call.Call {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]call.Call, 0)
	for _, c := range r.s.calls {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
