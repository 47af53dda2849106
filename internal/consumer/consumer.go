package consumer

import (
	"context"
	"fmt"

	"sentinal-relay/internal/broker"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/metrics"

	"go.uber.org/zap"
)

// Dedup claims idempotency tokens in the shared store.
type Dedup interface {
	MarkProcessed(ctx context.Context, token string) (bool, error)
}

// Fanout is the local delivery side of the socket tier.
type Fanout interface {
	BroadcastToUser(userID string, msg []byte) int
	BroadcastToRoom(conversationID string, msg []byte) int
}

// DispatchFunc delivers one accepted message and returns the number of
// sessions reached. raw is the broker value, forwarded unchanged.
type DispatchFunc func(ctx context.Context, env events.Envelope, raw []byte) int

// Consumer reads one topic, drops replays and dispatches by event type.
type Consumer struct {
	name    string
	topic   string
	dedup   Dedup
	table   map[events.EventType]DispatchFunc
	metrics *metrics.Instruments
	logger  *zap.Logger
}

func New(name, topic string, dedup Dedup, table map[events.EventType]DispatchFunc, m *metrics.Instruments, logger *zap.Logger) *Consumer {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		name:    name,
		topic:   topic,
		dedup:   dedup,
		table:   table,
		metrics: m,
		logger:  logger.Named("consumer").With(zap.String("consumer", name), zap.String("topic", topic)),
	}
}

func (c *Consumer) Topic() string { return c.topic }

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, sub broker.Subscriber) error {
	c.logger.Info("consumer started")
	err := sub.Subscribe(ctx, c.topic, c.Handle)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("consumer %s: %w", c.name, err)
	}
	return nil
}

// Handle processes one message. It never returns an error for a bad
// message so the subscription keeps moving.
func (c *Consumer) Handle(ctx context.Context, msg broker.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while handling message", zap.Any("panic", r), zap.String("key", msg.Key))
			metrics.Inc(ctx, c.metrics.ConsumerDropped, "consumer", c.name, "reason", "panic")
			err = nil
		}
	}()

	env, perr := events.ParseEnvelope(msg.Value)
	if perr != nil {
		c.logger.Warn("dropping malformed message", zap.Error(perr), zap.String("key", msg.Key))
		metrics.Inc(ctx, c.metrics.ConsumerDropped, "consumer", c.name, "reason", "malformed")
		return nil
	}
	log := c.logger.With(zap.String("event_type", env.EventType.String()), zap.String("aggregate_id", env.AggregateID))

	dispatch, ok := c.table[env.EventType]
	if !ok {
		log.Warn("dropping unknown event type")
		metrics.Inc(ctx, c.metrics.ConsumerDropped, "consumer", c.name, "reason", "unknown_type")
		return nil
	}

	if token := events.DedupToken(msg.Headers, env); token != "" && c.dedup != nil {
		first, derr := c.dedup.MarkProcessed(ctx, token)
		switch {
		case derr != nil:
			log.Warn("dedup store unavailable, delivering anyway", zap.String("token", token), zap.Error(derr))
		case !first:
			log.Debug("dropping duplicate", zap.String("token", token))
			metrics.Inc(ctx, c.metrics.ConsumerDuplicates, "consumer", c.name)
			return nil
		}
	}

	n := dispatch(ctx, env, msg.Value)
	metrics.Inc(ctx, c.metrics.ConsumerDelivered, "consumer", c.name, "event_type", env.EventType.String())
	log.Debug("message dispatched", zap.Int("sessions", n))
	return nil
}
