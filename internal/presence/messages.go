package presence

import (
	"encoding/json"
)

const (
	TypePresence     = "presence"
	TypePresenceSync = "presence_sync"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event tells targetUserId that userId went online or offline. Room
// notices carry conversationId instead of a single target.
type Event struct {
	Type           string `json:"type"`
	Status         string `json:"status"`
	UserID         string `json:"userId"`
	Username       string `json:"username,omitempty"`
	TargetUserID   string `json:"targetUserId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Timestamp      int64  `json:"timestamp"`
	LastSeen       *int64 `json:"lastSeen,omitempty"`
}

// FriendStatus is one row of a presence_sync snapshot.
type FriendStatus struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen *int64 `json:"lastSeen,omitempty"`
}

// Sync is the full snapshot sent to a connecting user.
type Sync struct {
	Type         string         `json:"type"`
	TargetUserID string         `json:"targetUserId"`
	Friends      []FriendStatus `json:"friends"`
	Timestamp    int64          `json:"timestamp"`
}

func statusText(online bool) string {
	if online {
		return StatusOnline
	}
	return StatusOffline
}

// NewFriendEvent builds the per-friend online/offline notification.
func NewFriendEvent(status, userID, username, targetUserID string, ts int64, lastSeen *int64) ([]byte, error) {
	return json.Marshal(Event{
		Type:         TypePresence,
		Status:       status,
		UserID:       userID,
		Username:     username,
		TargetUserID: targetUserID,
		Timestamp:    ts,
		LastSeen:     lastSeen,
	})
}

// NewRoomEvent builds the notice sent to the other members of a room.
func NewRoomEvent(status, userID, username, conversationID string, ts int64, lastSeen *int64) ([]byte, error) {
	return json.Marshal(Event{
		Type:           TypePresence,
		Status:         status,
		UserID:         userID,
		Username:       username,
		ConversationID: conversationID,
		Timestamp:      ts,
		LastSeen:       lastSeen,
	})
}

func newSync(targetUserID string, friends []FriendStatus, ts int64) ([]byte, error) {
	if friends == nil {
		friends = []FriendStatus{}
	}
	return json.Marshal(Sync{
		Type:         TypePresenceSync,
		TargetUserID: targetUserID,
		Friends:      friends,
		Timestamp:    ts,
	})
}
