package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS uses topics as subjects. Plain subscriptions give every instance a copy.
type NATS struct {
	nc     *nats.Conn
	logger *zap.Logger
}

func NewNATS(url, name string, logger *zap.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATS{nc: nc, logger: logger}, nil
}

// natsKeyHeader carries Message.Key, which NATS has no field for.
const natsKeyHeader = "Relay-Key"

func (n *NATS) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.nc.PublishMsg(toNATSMsg(msg))
}

func toNATSMsg(msg Message) *nats.Msg {
	nm := nats.NewMsg(msg.Topic)
	nm.Data = msg.Value
	for name, value := range msg.Headers {
		nm.Header.Set(name, value)
	}
	if msg.Key != "" {
		nm.Header.Set(natsKeyHeader, msg.Key)
	}
	return nm
}

func fromNATSMsg(nm *nats.Msg) Message {
	msg := Message{Topic: nm.Subject, Value: nm.Data, Headers: make(map[string]string, len(nm.Header))}
	for name := range nm.Header {
		if name == natsKeyHeader {
			continue
		}
		msg.Headers[name] = nm.Header.Get(name)
	}
	msg.Key = nm.Header.Get(natsKeyHeader)
	return msg
}

func (n *NATS) Subscribe(ctx context.Context, topic string, h Handler) error {
	logger := n.logger.With(zap.String("topic", topic))
	sub, err := n.nc.Subscribe(topic, func(nm *nats.Msg) {
		deliver(ctx, logger, h, fromNATSMsg(nm))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	logger.Info("nats subscription started")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		logger.Warn("nats unsubscribe failed", zap.Error(err))
	}
	logger.Info("nats subscription stopped")
	return nil
}

func (n *NATS) Close() error {
	return n.nc.Drain()
}
