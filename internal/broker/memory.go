package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Memory delivers synchronously to in-process subscribers. It records every
// published message and can be told to fail publishes.
type Memory struct {
	mu         sync.RWMutex
	subs       map[string]map[int]Handler
	nextID     int
	published  []Message
	publishErr error
	logger     *zap.Logger
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]Handler), logger: zap.NewNop()}
}

// FailPublishes makes every Publish return err until called with nil.
func (m *Memory) FailPublishes(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, msg)
	handlers := make([]Handler, 0, len(m.subs[msg.Topic]))
	for _, h := range m.subs[msg.Topic] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		deliver(ctx, m.logger, h, msg)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string, h Handler) error {
	m.mu.Lock()
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[int]Handler)
	}
	id := m.nextID
	m.nextID++
	m.subs[topic][id] = h
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.subs[topic], id)
	m.mu.Unlock()
	return nil
}

// Subscribers returns the number of active subscriptions on topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

// Published returns a copy of every message accepted so far.
func (m *Memory) Published() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.published))
	copy(out, m.published)
	return out
}

func (m *Memory) Close() error {
	return nil
}
