package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinal-relay/internal/domain/call"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/metrics"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultRingTimeout = 60 * time.Second
	sweepBatchSize     = 200
)

// CallTimeoutSweeper marks calls that rang for longer than the ring timeout
// as MISSED and tells both parties.
type CallTimeoutSweeper struct {
	uow      repository.UnitOfWork
	calls    repository.CallRepository
	recorder *EventRecorder
	timeout  time.Duration
	metrics  *metrics.Instruments
	logger   *zap.Logger
	clock    func() time.Time
}

func NewCallTimeoutSweeper(uow repository.UnitOfWork, calls repository.CallRepository, timeout time.Duration, m *metrics.Instruments, logger *zap.Logger) *CallTimeoutSweeper {
	if timeout <= 0 {
		timeout = DefaultRingTimeout
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallTimeoutSweeper{
		uow:      uow,
		calls:    calls,
		recorder: NewEventRecorder(),
		timeout:  timeout,
		metrics:  m,
		logger:   logger.Named("call-timeout"),
		clock:    time.Now,
	}
}

// Sweep processes one batch of timed out calls, each in its own
// transaction. A failure on one call is logged and does not stop the rest.
func (s *CallTimeoutSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clock()
	due, err := s.calls.ListRinging(ctx, now.Add(-s.timeout), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list ringing calls: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	missed := 0
	for _, c := range due {
		err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			return s.markMissed(ctx, tx, c, now)
		})
		switch {
		case err == nil:
			missed++
			metrics.Inc(ctx, s.metrics.CallTransitions, "to", call.StatusMissed.String())
			s.logger.Info("call timed out",
				zap.String("call_id", c.ID.String()),
				zap.String("caller_id", c.CallerID.String()),
				zap.String("receiver_id", c.ReceiverID.String()),
			)
		case errors.Is(err, sentinal_errors.ErrConflict):
			s.logger.Debug("call changed before timeout applied", zap.String("call_id", c.ID.String()))
		default:
			s.logger.Error("failed to time out call", zap.String("call_id", c.ID.String()), zap.Error(err))
		}
	}
	return missed, nil
}

// Tick adapts Sweep to a periodic task.
func (s *CallTimeoutSweeper) Tick(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("call timeout sweep failed", zap.Error(err))
	}
}

func (s *CallTimeoutSweeper) markMissed(ctx context.Context, tx repository.Tx, c call.Call, now time.Time) error {
	prev := c.Status
	if !call.CanTransition(prev, call.StatusMissed) {
		return sentinal_errors.ErrConflict
	}
	c.Status = call.StatusMissed
	c.EndedAt = &now
	c.EndReason = call.ReasonTimeout
	if err := tx.Calls().UpdateStatus(ctx, &c, prev); err != nil {
		return err
	}

	for _, recipient := range []uuid.UUID{c.CallerID, c.ReceiverID} {
		err := s.recorder.Record(ctx, tx.Outbox(), events.CallMissed, recipient.String(), callEventKey(c.ID, events.CallMissed, recipient),
			F("callId", c.ID),
			F("conversationId", c.ConversationID),
			F("callerId", c.CallerID),
			F("receiverId", c.ReceiverID),
			F("type", c.Type),
			F("timestamp", now),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
