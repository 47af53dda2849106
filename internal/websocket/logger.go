package websocket

import (
	"go.uber.org/zap"
)

// Logger provides structured logging for socket events
type Logger struct {
	logger *zap.Logger
}

// NewLogger derives the websocket component logger from base, or from the
// global zap logger when base is nil.
func NewLogger(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.L()
	}
	return &Logger{
		logger: base.With(zap.String("component", "websocket")),
	}
}

func (l *Logger) fields(event, userID, sessionID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
	}, extra...)
}

func (l *Logger) Debug(event, userID, sessionID string, fields ...zap.Field) {
	l.logger.Debug("websocket_event", l.fields(event, userID, sessionID, fields)...)
}

// Info logs info level event
func (l *Logger) Info(event, userID, sessionID string, fields ...zap.Field) {
	l.logger.Info("websocket_event", l.fields(event, userID, sessionID, fields)...)
}

// Warn logs warning level event
func (l *Logger) Warn(event, userID, sessionID string, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", l.fields(event, userID, sessionID, fields)...)
}

// Error logs error level event
func (l *Logger) Error(event, userID, sessionID string, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", l.fields(event, userID, sessionID, append(fields, zap.Error(err)))...)
}
