package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinal-relay/internal/domain/call"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/metrics"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHistorySize = 20
	maxHistorySize     = 100
)

type InitiateCallInput struct {
	ConversationID uuid.UUID
	ReceiverID     uuid.UUID
	Type           call.Type
}

// CallDetails is a call with the display profile of both parties when the
// conversation could be loaded.
type CallDetails struct {
	call.Call
	Caller   *conversation.Participant
	Receiver *conversation.Participant
}

type CallHistory struct {
	Items []CallDetails
	Total int64
	Page  int
	Size  int
}

type CallService struct {
	uow           repository.UnitOfWork
	calls         repository.CallRepository
	conversations repository.ConversationRepository
	recorder      *EventRecorder
	metrics       *metrics.Instruments
	logger        *zap.Logger
	clock         func() time.Time
}

func NewCallService(uow repository.UnitOfWork, calls repository.CallRepository, conversations repository.ConversationRepository, m *metrics.Instruments, logger *zap.Logger) *CallService {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallService{
		uow:           uow,
		calls:         calls,
		conversations: conversations,
		recorder:      NewEventRecorder(),
		metrics:       m,
		logger:        logger.Named("calls"),
		clock:         time.Now,
	}
}

func callEventKey(callID uuid.UUID, eventType events.EventType, recipient uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", callID, eventType, recipient)
}

// notify records eventType for recipient inside tx.
func (s *CallService) notify(ctx context.Context, tx repository.Tx, eventType events.EventType, c call.Call, recipient uuid.UUID, fields ...Field) error {
	return s.recorder.Record(ctx, tx.Outbox(), eventType, recipient.String(), callEventKey(c.ID, eventType, recipient), fields...)
}

func (s *CallService) countTransition(ctx context.Context, to call.Status) {
	metrics.Inc(ctx, s.metrics.CallTransitions, "to", to.String())
}

// Initiate starts a call in a direct conversation. Any active call of
// either party is ended first and its other participants are told why.
func (s *CallService) Initiate(ctx context.Context, callerID uuid.UUID, in InitiateCallInput) (CallDetails, error) {
	if !in.Type.Valid() {
		return CallDetails{}, fmt.Errorf("call type %q: %w", in.Type, sentinal_errors.ErrInvalidInput)
	}
	if in.ReceiverID == uuid.Nil || in.ReceiverID == callerID {
		return CallDetails{}, fmt.Errorf("receiver: %w", sentinal_errors.ErrInvalidInput)
	}

	conv, err := s.conversations.GetByID(ctx, in.ConversationID)
	if err != nil {
		return CallDetails{}, fmt.Errorf("conversation: %w", err)
	}
	if conv.Type != conversation.TypeDirect {
		return CallDetails{}, fmt.Errorf("calls are only supported for direct conversations: %w", sentinal_errors.ErrInvalidInput)
	}
	caller, ok := conv.Participant(callerID)
	if !ok {
		return CallDetails{}, fmt.Errorf("caller is not a participant: %w", sentinal_errors.ErrForbidden)
	}
	receiver, ok := conv.Participant(in.ReceiverID)
	if !ok {
		return CallDetails{}, fmt.Errorf("receiver is not a participant: %w", sentinal_errors.ErrInvalidInput)
	}
	if !conv.IsDirectPair(callerID, in.ReceiverID) {
		return CallDetails{}, fmt.Errorf("direct conversation must have exactly 2 participants: %w", sentinal_errors.ErrInvalidInput)
	}

	now := s.clock()
	created := call.Call{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		CallerID:       callerID,
		ReceiverID:     in.ReceiverID,
		Type:           in.Type,
		Status:         call.StatusInitiated,
		StartedAt:      now,
	}
	var replaced []call.Call

	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		replaced = replaced[:0]
		active, err := tx.Calls().FindActiveForUsers(ctx, callerID, in.ReceiverID)
		if err != nil {
			return fmt.Errorf("find active calls: %w", err)
		}
		for _, c := range active {
			ended, err := s.endReplaced(ctx, tx, c, callerID, now)
			if err != nil {
				return err
			}
			replaced = append(replaced, ended)
		}

		if err := tx.Calls().Create(ctx, &created); err != nil {
			return fmt.Errorf("create call: %w", err)
		}
		return s.notify(ctx, tx, events.CallInitiated, created, created.ReceiverID,
			F("callId", created.ID),
			F("conversationId", created.ConversationID),
			F("callerId", created.CallerID),
			F("callerName", caller.Name()),
			F("callerAvatarUrl", caller.AvatarURL),
			F("receiverId", created.ReceiverID),
			F("type", created.Type),
			F("timestamp", created.StartedAt),
		)
	})
	if err != nil {
		return CallDetails{}, err
	}

	for range replaced {
		s.countTransition(ctx, call.StatusEnded)
	}
	s.countTransition(ctx, call.StatusInitiated)
	s.logger.Info("call initiated",
		zap.String("call_id", created.ID.String()),
		zap.String("caller_id", callerID.String()),
		zap.String("receiver_id", created.ReceiverID.String()),
		zap.String("type", string(created.Type)),
		zap.Int("replaced", len(replaced)),
	)
	return CallDetails{Call: created, Caller: &caller, Receiver: &receiver}, nil
}

func (s *CallService) endReplaced(ctx context.Context, tx repository.Tx, c call.Call, initiator uuid.UUID, now time.Time) (call.Call, error) {
	prev := c.Status
	by := initiator
	duration := c.Duration(now)
	c.Status = call.StatusEnded
	c.EndedAt = &now
	c.EndedBy = &by
	c.EndReason = call.ReasonReplaced
	c.DurationSeconds = &duration
	if err := tx.Calls().UpdateStatus(ctx, &c, prev); err != nil {
		return c, fmt.Errorf("end replaced call %s: %w", c.ID, err)
	}

	for _, participant := range []uuid.UUID{c.CallerID, c.ReceiverID} {
		if participant == initiator {
			continue
		}
		err := s.notify(ctx, tx, events.CallEnded, c, participant,
			F("callId", c.ID),
			F("conversationId", c.ConversationID),
			F("endedBy", initiator),
			F("reason", call.ReasonReplaced),
			F("duration", duration),
			F("timestamp", now),
		)
		if err != nil {
			return c, err
		}
	}
	s.logger.Info("ended active call before new call",
		zap.String("call_id", c.ID.String()),
		zap.String("ended_by", initiator.String()),
	)
	return c, nil
}

// transition loads the call inside a transaction, lets apply mutate it and
// record events, then writes it back only if nobody changed it meanwhile.
func (s *CallService) transition(ctx context.Context, callID uuid.UUID, apply func(ctx context.Context, tx repository.Tx, c *call.Call, now time.Time) error) (call.Call, error) {
	var out call.Call
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.Calls().GetByID(ctx, callID)
		if err != nil {
			return fmt.Errorf("call %s: %w", callID, err)
		}
		prev := c.Status
		if err := apply(ctx, tx, &c, s.clock()); err != nil {
			return err
		}
		if err := tx.Calls().UpdateStatus(ctx, &c, prev); err != nil {
			return fmt.Errorf("update call %s: %w", callID, err)
		}
		out = c
		return nil
	})
	if err != nil {
		return call.Call{}, err
	}
	s.countTransition(ctx, out.Status)
	return out, nil
}

func checkTransition(c *call.Call, to call.Status) error {
	if !call.CanTransition(c.Status, to) {
		return fmt.Errorf("call is %s, cannot move to %s: %w", c.Status, to, sentinal_errors.ErrInvalidTransition)
	}
	return nil
}

// Answer is allowed for the receiver of a call that is still ringing.
func (s *CallService) Answer(ctx context.Context, callID, userID uuid.UUID) (CallDetails, error) {
	c, err := s.transition(ctx, callID, func(ctx context.Context, tx repository.Tx, c *call.Call, now time.Time) error {
		if c.ReceiverID != userID {
			return fmt.Errorf("only the receiver can answer: %w", sentinal_errors.ErrForbidden)
		}
		if err := checkTransition(c, call.StatusAnswered); err != nil {
			return err
		}
		c.Status = call.StatusAnswered
		c.AnsweredAt = &now
		return s.notify(ctx, tx, events.CallAnswered, *c, c.CallerID,
			F("callId", c.ID),
			F("conversationId", c.ConversationID),
			F("receiverId", c.ReceiverID),
			F("timestamp", now),
		)
	})
	if err != nil {
		return CallDetails{}, err
	}
	s.logger.Info("call answered", zap.String("call_id", callID.String()), zap.String("receiver_id", userID.String()))
	return s.details(ctx, c), nil
}

// Reject is allowed for the receiver of a call that is still ringing.
func (s *CallService) Reject(ctx context.Context, callID, userID uuid.UUID) (CallDetails, error) {
	c, err := s.transition(ctx, callID, func(ctx context.Context, tx repository.Tx, c *call.Call, now time.Time) error {
		if c.ReceiverID != userID {
			return fmt.Errorf("only the receiver can reject: %w", sentinal_errors.ErrForbidden)
		}
		if err := checkTransition(c, call.StatusRejected); err != nil {
			return err
		}
		by := userID
		c.Status = call.StatusRejected
		c.EndedAt = &now
		c.EndedBy = &by
		c.EndReason = call.ReasonRejected
		return s.notify(ctx, tx, events.CallRejected, *c, c.CallerID,
			F("callId", c.ID),
			F("conversationId", c.ConversationID),
			F("receiverId", c.ReceiverID),
			F("timestamp", now),
		)
	})
	if err != nil {
		return CallDetails{}, err
	}
	s.logger.Info("call rejected", zap.String("call_id", callID.String()), zap.String("receiver_id", userID.String()))
	return s.details(ctx, c), nil
}

// End hangs up an answered call. Either party may end it.
func (s *CallService) End(ctx context.Context, callID, userID uuid.UUID) (CallDetails, error) {
	c, err := s.transition(ctx, callID, func(ctx context.Context, tx repository.Tx, c *call.Call, now time.Time) error {
		if !c.IsParticipant(userID) {
			return fmt.Errorf("not a participant in this call: %w", sentinal_errors.ErrForbidden)
		}
		if c.Status != call.StatusAnswered {
			return fmt.Errorf("call is %s, only answered calls can be ended: %w", c.Status, sentinal_errors.ErrInvalidTransition)
		}
		by := userID
		duration := c.Duration(now)
		c.Status = call.StatusEnded
		c.EndedAt = &now
		c.EndedBy = &by
		c.EndReason = call.ReasonHangup
		c.DurationSeconds = &duration
		return s.notify(ctx, tx, events.CallEnded, *c, c.OtherParty(userID),
			F("callId", c.ID),
			F("conversationId", c.ConversationID),
			F("endedBy", userID),
			F("reason", call.ReasonHangup),
			F("duration", duration),
			F("timestamp", now),
		)
	})
	if err != nil {
		return CallDetails{}, err
	}
	s.logger.Info("call ended",
		zap.String("call_id", callID.String()),
		zap.String("ended_by", userID.String()),
		zap.Int64("duration_seconds", *c.DurationSeconds),
	)
	return s.details(ctx, c), nil
}

func (s *CallService) Get(ctx context.Context, callID, userID uuid.UUID) (CallDetails, error) {
	c, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return CallDetails{}, fmt.Errorf("call %s: %w", callID, err)
	}
	if !c.IsParticipant(userID) {
		return CallDetails{}, fmt.Errorf("not a participant in this call: %w", sentinal_errors.ErrForbidden)
	}
	return s.details(ctx, c), nil
}

// Active lists the calls currently occupying userID.
func (s *CallService) Active(ctx context.Context, userID uuid.UUID) ([]CallDetails, error) {
	calls, err := s.calls.FindActiveForUsers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("active calls: %w", err)
	}
	return s.detailsList(ctx, calls), nil
}

// History pages through userID's calls, newest first. page is 1-based.
func (s *CallService) History(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID, page, size int) (CallHistory, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultHistorySize
	}
	if size > maxHistorySize {
		size = maxHistorySize
	}
	calls, total, err := s.calls.History(ctx, userID, conversationID, page, size)
	if err != nil {
		return CallHistory{}, fmt.Errorf("call history: %w", err)
	}
	return CallHistory{Items: s.detailsList(ctx, calls), Total: total, Page: page, Size: size}, nil
}

func (s *CallService) details(ctx context.Context, c call.Call) CallDetails {
	return s.detailsList(ctx, []call.Call{c})[0]
}

// detailsList attaches participant profiles, loading each conversation once.
// Lookup failures leave the profiles empty.
func (s *CallService) detailsList(ctx context.Context, calls []call.Call) []CallDetails {
	convs := make(map[uuid.UUID]*conversation.Conversation)
	out := make([]CallDetails, 0, len(calls))
	for _, c := range calls {
		conv, seen := convs[c.ConversationID]
		if !seen {
			loaded, err := s.conversations.GetByID(ctx, c.ConversationID)
			if err != nil {
				if !errors.Is(err, sentinal_errors.ErrNotFound) {
					s.logger.Warn("failed to load conversation for call", zap.String("call_id", c.ID.String()), zap.Error(err))
				}
			} else {
				conv = &loaded
			}
			convs[c.ConversationID] = conv
		}

		d := CallDetails{Call: c}
		if conv != nil {
			d.Caller = findParticipant(*conv, c.CallerID)
			d.Receiver = findParticipant(*conv, c.ReceiverID)
		}
		out = append(out, d)
	}
	return out
}

// findParticipant includes members who have since left.
func findParticipant(conv conversation.Conversation, userID uuid.UUID) *conversation.Participant {
	for i := range conv.Participants {
		if conv.Participants[i].UserID == userID {
			p := conv.Participants[i]
			return &p
		}
	}
	return nil
}
