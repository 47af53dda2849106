package broker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQP maps topics onto routing keys of one topic exchange. Each Subscribe
// declares an exclusive auto-delete queue so every instance gets a copy.
type AMQP struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger

	mu      sync.Mutex
	channel *amqp.Channel
}

func NewAMQP(url, exchange string, logger *zap.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQP{conn: conn, exchange: exchange, channel: ch, logger: logger}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}

func (a *AMQP) Publish(ctx context.Context, msg Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel.PublishWithContext(ctx,
		a.exchange, // exchange
		msg.Topic,  // routing key
		false,      // mandatory
		false,      // immediate
		toPublishing(msg),
	)
}

// toPublishing stores Message.Key in the AMQP message-id property.
func toPublishing(msg Message) amqp.Publishing {
	headers := amqp.Table{}
	for name, value := range msg.Headers {
		headers[name] = value
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Key,
		Headers:      headers,
		Body:         msg.Value,
	}
}

// fromDelivery keeps text headers only; other AMQP field types are dropped.
func fromDelivery(topic string, d amqp.Delivery) Message {
	msg := Message{Topic: topic, Key: d.MessageId, Value: d.Body, Headers: make(map[string]string, len(d.Headers))}
	for name, value := range d.Headers {
		switch v := value.(type) {
		case string:
			msg.Headers[name] = v
		case []byte:
			msg.Headers[name] = string(v)
		}
	}
	return msg
}

func (a *AMQP) Subscribe(ctx context.Context, topic string, h Handler) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, a.exchange); err != nil {
		return err
	}
	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, a.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger := a.logger.With(zap.String("topic", topic), zap.String("queue", q.Name))
	logger.Info("amqp subscription started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("amqp subscription stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp: delivery channel closed for %s", topic)
			}
			deliver(ctx, logger, h, fromDelivery(topic, d))
		}
	}
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	if a.channel != nil {
		a.channel.Close()
	}
	a.mu.Unlock()
	return a.conn.Close()
}
