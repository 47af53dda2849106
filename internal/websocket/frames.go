package websocket

import (
	"encoding/json"
	"strings"
)

// Client frame types
const (
	FrameJoin             = "join"
	FrameTypingStart      = "typing_start"
	FrameTypingStop       = "typing_stop"
	FrameCallOffer        = "call_offer"
	FrameCallAnswer       = "call_answer"
	FrameCallICECandidate = "call_ice_candidate"
	FramePing             = "ping"
)

var pongFrame = []byte(`{"type":"pong"}`)

// clientFrame holds the routing fields of an inbound frame. Signaling
// payloads (sdp, candidate) are never decoded.
type clientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	CallID         string `json:"callId,omitempty"`
	TargetUserID   string `json:"targetUserId,omitempty"`
}

func parseClientFrame(raw []byte) (clientFrame, error) {
	var f clientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return clientFrame{}, err
	}
	f.Type = strings.TrimSpace(f.Type)
	f.ConversationID = strings.TrimSpace(f.ConversationID)
	f.CallID = strings.TrimSpace(f.CallID)
	f.TargetUserID = strings.TrimSpace(f.TargetUserID)
	return f, nil
}

type typingFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
	Timestamp      int64  `json:"timestamp"`
}

func newTypingFrame(conversationID, userID string, isTyping bool, ts int64) ([]byte, error) {
	return json.Marshal(typingFrame{
		Type:           "typing",
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		Timestamp:      ts,
	})
}
