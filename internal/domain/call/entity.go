package call

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeVoice Type = "VOICE"
	TypeVideo Type = "VIDEO"
)

func (t Type) Valid() bool {
	return t == TypeVoice || t == TypeVideo
}

type Status string

const (
	StatusInitiated Status = "INITIATED"
	// StatusRinging is reserved; no transition currently produces it.
	StatusRinging  Status = "RINGING"
	StatusAnswered Status = "ANSWERED"
	StatusEnded    Status = "ENDED"
	StatusRejected Status = "REJECTED"
	StatusMissed   Status = "MISSED"
)

func (s Status) String() string { return string(s) }

// Active reports whether a call still occupies its participants.
func (s Status) Active() bool {
	return s == StatusInitiated || s == StatusRinging || s == StatusAnswered
}

// ActiveStatuses lists the statuses that count as an ongoing call.
var ActiveStatuses = []Status{StatusInitiated, StatusRinging, StatusAnswered}

// End reasons
const (
	ReasonReplaced = "replaced_by_new_call"
	ReasonHangup   = "hangup"
	ReasonTimeout  = "timeout"
	ReasonRejected = "rejected"
)

var transitions = map[Status][]Status{
	StatusInitiated: {StatusRinging, StatusAnswered, StatusRejected, StatusEnded, StatusMissed},
	StatusRinging:   {StatusAnswered, StatusRejected, StatusEnded, StatusMissed},
	StatusAnswered:  {StatusEnded},
}

// CanTransition reports whether from -> to is an edge of the call state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Call represents calls table
type Call struct {
	ID              uuid.UUID
	ConversationID  uuid.UUID
	CallerID        uuid.UUID
	ReceiverID      uuid.UUID
	Type            Type
	Status          Status
	StartedAt       time.Time
	AnsweredAt      *time.Time
	EndedAt         *time.Time
	EndedBy         *uuid.UUID
	EndReason       string
	DurationSeconds *int64
}

func (c Call) IsParticipant(userID uuid.UUID) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

// OtherParty returns the participant that is not userID.
func (c Call) OtherParty(userID uuid.UUID) uuid.UUID {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

// Duration computes whole seconds between answer and end, or 0 if never answered.
func (c Call) Duration(end time.Time) int64 {
	if c.AnsweredAt == nil {
		return 0
	}
	secs := int64(end.Sub(*c.AnsweredAt) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
