package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinal-relay/internal/broker"
	"sentinal-relay/internal/domain/outbox"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/metrics"
	"sentinal-relay/internal/repository"

	"go.uber.org/zap"
)

// Result summarizes one drained batch.
type Result struct {
	Sent    int
	Retried int
	Parked  int
}

type Processor struct {
	repo           repository.OutboxRepository
	publisher      broker.Publisher
	topics         events.TopicResolver
	clock          func() time.Time
	batchSize      int
	publishTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Instruments
}

func NewProcessor(repo repository.OutboxRepository, publisher broker.Publisher, topics events.TopicResolver, batchSize int, publishTimeout time.Duration, logger *zap.Logger, m *metrics.Instruments) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Processor{
		repo:           repo,
		publisher:      publisher,
		topics:         topics,
		clock:          time.Now,
		batchSize:      batchSize,
		publishTimeout: publishTimeout,
		logger:         logger.Named("outbox"),
		metrics:        m,
	}
}

// PublishPending drains one batch. A record that fails to publish stays
// PENDING with its attempt counter bumped; the rest of the batch continues.
func (p *Processor) PublishPending(ctx context.Context) (Result, error) {
	var res Result
	batch, err := p.repo.DrainPending(ctx, p.batchSize)
	if err != nil {
		return res, fmt.Errorf("drain pending outbox records: %w", err)
	}

	for _, rec := range batch {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log := p.logger.With(
			zap.String("outbox_id", rec.ID.String()),
			zap.String("event_type", rec.EventType.String()),
			zap.Int("attempt", rec.Attempt),
		)

		msg, err := BuildMessage(rec, p.topics, p.clock())
		if err != nil {
			log.Error("outbox record cannot be encoded, parking as FAILED", zap.Error(err))
			if markErr := p.repo.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
				log.Error("failed to park outbox record", zap.Error(markErr))
			}
			res.Parked++
			continue
		}

		if err := p.publish(ctx, msg); err != nil {
			log.Warn("outbox publish failed, will retry", zap.String("topic", msg.Topic), zap.Error(err))
			metrics.Inc(ctx, p.metrics.OutboxPublishFailures, "topic", msg.Topic)
			if markErr := p.repo.MarkAttemptFailed(ctx, rec.ID, p.clock(), err.Error()); markErr != nil {
				log.Error("failed to record outbox attempt", zap.Error(markErr))
			}
			res.Retried++
			continue
		}

		sent, err := p.repo.MarkSent(ctx, rec.ID, p.clock())
		if err != nil {
			// The record stays PENDING and is published again; consumers dedup it.
			log.Error("failed to mark outbox record sent", zap.Error(err))
			continue
		}
		if !sent {
			log.Debug("outbox record already left PENDING")
		}
		metrics.Inc(ctx, p.metrics.OutboxPublished, "topic", msg.Topic)
		res.Sent++
	}
	return res, nil
}

// Tick is the periodic entry point; errors are logged.
func (p *Processor) Tick(ctx context.Context) {
	res, err := p.PublishPending(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("outbox batch failed", zap.Error(err))
		return
	}
	if res.Sent+res.Retried+res.Parked > 0 {
		p.logger.Debug("outbox batch done",
			zap.Int("sent", res.Sent),
			zap.Int("retried", res.Retried),
			zap.Int("parked", res.Parked))
	}
}

func (p *Processor) publish(ctx context.Context, msg broker.Message) error {
	pubCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()
	return p.publisher.Publish(pubCtx, msg)
}

// BuildMessage wraps a record in the broker envelope and routes it by event type.
func BuildMessage(rec outbox.Record, topics events.TopicResolver, now time.Time) (broker.Message, error) {
	if rec.PayloadErr != nil {
		return broker.Message{}, fmt.Errorf("stored payload is not decodable: %w", rec.PayloadErr)
	}
	env := events.NewEnvelope(rec.EventType, rec.AggregateID, now, rec.Payload)
	value, err := env.Marshal()
	if err != nil {
		return broker.Message{}, fmt.Errorf("encode envelope: %w", err)
	}
	key := rec.Key()
	return broker.Message{
		Topic:   topics.Resolve(rec.EventType),
		Key:     key,
		Headers: map[string]string{events.HeaderMessageID: key},
		Value:   value,
	}, nil
}
