package consumer

import (
	"context"

	"sentinal-relay/internal/events"
	"sentinal-relay/internal/metrics"

	"go.uber.org/zap"
)

func toRoom(f Fanout) DispatchFunc {
	return func(_ context.Context, env events.Envelope, raw []byte) int {
		return f.BroadcastToRoom(env.AggregateID, raw)
	}
}

func toUser(f Fanout) DispatchFunc {
	return func(_ context.Context, env events.Envelope, raw []byte) int {
		return f.BroadcastToUser(env.AggregateID, raw)
	}
}

// MessageTable routes conversation scoped events to the conversation room.
func MessageTable(f Fanout) map[events.EventType]DispatchFunc {
	table := make(map[events.EventType]DispatchFunc)
	for _, t := range events.TypesFor(events.TopicMessage) {
		table[t] = toRoom(f)
	}
	return table
}

// UserTable routes user scoped events to every session of the user.
func UserTable(f Fanout) map[events.EventType]DispatchFunc {
	table := make(map[events.EventType]DispatchFunc)
	for _, t := range events.TypesFor(events.TopicUser) {
		table[t] = toUser(f)
	}
	return table
}

func NewMessageConsumer(topic string, dedup Dedup, f Fanout, m *metrics.Instruments, logger *zap.Logger) *Consumer {
	return New("message", topic, dedup, MessageTable(f), m, logger)
}

func NewUserConsumer(topic string, dedup Dedup, f Fanout, m *metrics.Instruments, logger *zap.Logger) *Consumer {
	return New("user", topic, dedup, UserTable(f), m, logger)
}
