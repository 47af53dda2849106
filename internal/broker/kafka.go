package broker

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka publishes with the record key as partition key. Every instance reads
// through its own consumer group so all instances see every message.
type Kafka struct {
	brokers []string
	group   string
	writer  *kafka.Writer
	logger  *zap.Logger
}

func NewKafka(brokers []string, consumerGroup, instanceID string, logger *zap.Logger) *Kafka {
	return &Kafka{
		brokers: brokers,
		group:   consumerGroupID(consumerGroup, instanceID),
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// consumerGroupID scopes the group to one instance.
func consumerGroupID(consumerGroup, instanceID string) string {
	if instanceID == "" {
		return consumerGroup
	}
	return consumerGroup + "-" + instanceID
}

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	return k.writer.WriteMessages(ctx, toKafkaMessage(msg))
}

func toKafkaMessage(msg Message) kafka.Message {
	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	headers := make([]kafka.Header, 0, len(names))
	for _, name := range names {
		headers = append(headers, kafka.Header{Key: name, Value: []byte(msg.Headers[name])})
	}
	return kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
	}
}

// fromKafkaMessage keeps the last value of a repeated header.
func fromKafkaMessage(km kafka.Message) Message {
	msg := Message{Topic: km.Topic, Key: string(km.Key), Value: km.Value, Headers: make(map[string]string, len(km.Headers))}
	for _, hdr := range km.Headers {
		msg.Headers[hdr.Key] = string(hdr.Value)
	}
	return msg
}

func (k *Kafka) Subscribe(ctx context.Context, topic string, h Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     k.group,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})
	defer reader.Close()

	logger := k.logger.With(zap.String("topic", topic), zap.String("group", k.group))
	logger.Info("kafka subscription started")

	for {
		km, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.Info("kafka subscription stopped")
				return nil
			}
			logger.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		deliver(ctx, logger, h, fromKafkaMessage(km))

		if err := reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
			logger.Warn("kafka commit failed", zap.Int64("offset", km.Offset), zap.Error(err))
		}
	}
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
