package conversation

import (
	"github.com/google/uuid"
)

type Type string

const (
	TypeDirect Type = "DIRECT"
	TypeGroup  Type = "GROUP"
)

// Conversation is the read-only view of the conversations table used to
// authorize calls.
type Conversation struct {
	ID           uuid.UUID
	Type         Type
	Participants []Participant
}

// Participant represents the participants table joined with the user profile
type Participant struct {
	UserID      uuid.UUID
	Username    string
	DisplayName string
	AvatarURL   string
	Active      bool
}

// Name prefers the display name over the username.
func (p Participant) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// ActiveParticipants returns participants that have not left.
func (c Conversation) ActiveParticipants() []Participant {
	out := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// Participant looks up an active participant by user id.
func (c Conversation) Participant(userID uuid.UUID) (Participant, bool) {
	for _, p := range c.Participants {
		if p.Active && p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// IsDirectPair reports whether the conversation is a direct chat whose only
// active members are a and b.
func (c Conversation) IsDirectPair(a, b uuid.UUID) bool {
	if c.Type != TypeDirect || a == b {
		return false
	}
	active := c.ActiveParticipants()
	if len(active) != 2 {
		return false
	}
	_, hasA := c.Participant(a)
	_, hasB := c.Participant(b)
	return hasA && hasB
}
