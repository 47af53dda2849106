package broker

import (
	"context"
	"errors"
	"fmt"

	"sentinal-relay/config"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message is one record on a topic. Value is the opaque event body.
type Message struct {
	Topic   string
	Key     string
	Headers map[string]string
	Value   []byte
}

// Header returns a header value or "".
func (m Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

// Handler processes one delivered message. Returned errors are logged by the
// driver and never stop the subscription.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type Subscriber interface {
	// Subscribe blocks, delivering every message on topic to h until ctx is
	// cancelled. Each process instance receives every message.
	Subscribe(ctx context.Context, topic string, h Handler) error
	Close() error
}

type Broker interface {
	Publisher
	Subscriber
}

var ErrClosed = errors.New("broker: closed")

// New builds the broker selected by cfg.BrokerDriver. rdb is only used by
// the redis driver.
func New(cfg *config.Config, rdb *goredis.Client, logger *zap.Logger) (Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("broker").With(zap.String("driver", cfg.BrokerDriver))

	switch cfg.BrokerDriver {
	case config.BrokerKafka:
		return NewKafka(cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.InstanceID, logger), nil
	case config.BrokerAMQP:
		return NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
	case config.BrokerNATS:
		return NewNATS(cfg.NATSURL, cfg.ServiceName+"-"+cfg.InstanceID, logger)
	case config.BrokerRedis:
		if rdb == nil {
			return nil, errors.New("broker: redis driver requires a redis client")
		}
		return NewRedis(rdb, logger), nil
	default:
		return nil, fmt.Errorf("broker: unknown driver %q", cfg.BrokerDriver)
	}
}

func deliver(ctx context.Context, logger *zap.Logger, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", zap.String("topic", msg.Topic), zap.Any("panic", r))
		}
	}()
	if err := h(ctx, msg); err != nil {
		logger.Warn("handler returned error", zap.String("topic", msg.Topic), zap.Error(err))
	}
}
