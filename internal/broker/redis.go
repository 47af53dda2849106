package broker

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisFrame carries headers alongside the value since pub/sub has no metadata.
type redisFrame struct {
	Key     string            `json:"key,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Value   []byte            `json:"value"`
}

// Redis is a pub/sub broker on the shared Redis. Delivery is at-most-once
// per subscriber, so it suits single-region or development deployments.
type Redis struct {
	client *goredis.Client
	logger *zap.Logger
}

func NewRedis(client *goredis.Client, logger *zap.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, msg Message) error {
	frame, err := json.Marshal(redisFrame{Key: msg.Key, Headers: msg.Headers, Value: msg.Value})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return r.client.Publish(ctx, msg.Topic, frame).Err()
}

func (r *Redis) Subscribe(ctx context.Context, topic string, h Handler) error {
	sub := r.client.Subscribe(ctx, topic)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	logger := r.logger.With(zap.String("topic", topic))
	logger.Info("redis subscription started")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			logger.Info("redis subscription stopped")
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var frame redisFrame
			if err := json.Unmarshal([]byte(m.Payload), &frame); err != nil {
				logger.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			deliver(ctx, logger, h, Message{Topic: m.Channel, Key: frame.Key, Headers: frame.Headers, Value: frame.Value})
		}
	}
}

func (r *Redis) Close() error {
	return nil
}
