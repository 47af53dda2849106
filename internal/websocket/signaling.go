package websocket

import (
	"go.uber.org/zap"
)

// Relay forwards WebRTC signaling frames between the two parties of a
// call. Frames are delivered byte for byte; sdp and candidate bodies are
// never inspected.
type Relay struct {
	registry *Registry
	logger   *Logger
}

func NewRelay(registry *Registry, logger *Logger) *Relay {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Relay{registry: registry, logger: logger}
}

// Forward delivers raw to every session of the frame's target user and
// returns how many sessions accepted it. Frames without callId or
// targetUserId are dropped.
func (r *Relay) Forward(from *Session, frame clientFrame, raw []byte) int {
	if frame.CallID == "" || frame.TargetUserID == "" {
		r.logger.Warn("signal dropped", from.UserID, from.ID,
			zap.String("frame", frame.Type),
			zap.String("call_id", frame.CallID),
			zap.String("target_user_id", frame.TargetUserID),
		)
		return 0
	}

	n := r.registry.BroadcastToUser(frame.TargetUserID, raw)
	r.logger.Debug("signal relayed", from.UserID, from.ID,
		zap.String("frame", frame.Type),
		zap.String("call_id", frame.CallID),
		zap.String("target_user_id", frame.TargetUserID),
		zap.Int("sessions", n),
	)
	return n
}
