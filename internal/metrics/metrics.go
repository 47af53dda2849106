package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments groups the counters recorded by the delivery pipeline.
type Instruments struct {
	OutboxPublished       metric.Int64Counter
	OutboxPublishFailures metric.Int64Counter
	ConsumerDelivered     metric.Int64Counter
	ConsumerDuplicates    metric.Int64Counter
	ConsumerDropped       metric.Int64Counter
	FanoutSends           metric.Int64Counter
	FanoutDrops           metric.Int64Counter
	WSSessions            metric.Int64UpDownCounter
	CallTransitions       metric.Int64Counter
}

// New creates the instruments on the global MeterProvider. Instrument
// creation errors fall back to no-op instruments inside the SDK.
func New() *Instruments {
	meter := otel.Meter("sentinal-relay")
	i := &Instruments{}
	i.OutboxPublished, _ = meter.Int64Counter("outbox.published",
		metric.WithDescription("Outbox records published to the broker"))
	i.OutboxPublishFailures, _ = meter.Int64Counter("outbox.publish_failures",
		metric.WithDescription("Failed outbox publish attempts"))
	i.ConsumerDelivered, _ = meter.Int64Counter("consumer.delivered",
		metric.WithDescription("Broker messages dispatched to local sessions"))
	i.ConsumerDuplicates, _ = meter.Int64Counter("consumer.duplicates",
		metric.WithDescription("Broker messages dropped as already processed"))
	i.ConsumerDropped, _ = meter.Int64Counter("consumer.dropped",
		metric.WithDescription("Broker messages dropped as malformed or unknown"))
	i.FanoutSends, _ = meter.Int64Counter("fanout.sends",
		metric.WithDescription("Frames queued to sessions"))
	i.FanoutDrops, _ = meter.Int64Counter("fanout.drops",
		metric.WithDescription("Frames dropped for closed or full sessions"))
	i.WSSessions, _ = meter.Int64UpDownCounter("ws.sessions",
		metric.WithDescription("Open websocket sessions"))
	i.CallTransitions, _ = meter.Int64Counter("calls.transitions",
		metric.WithDescription("Call state transitions"))
	return i
}

// Add increments c by n with optional string attributes given as key/value pairs.
func Add(ctx context.Context, c metric.Int64Counter, n int64, kv ...string) {
	if c == nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs(kv)...))
}

// Inc is Add with n = 1.
func Inc(ctx context.Context, c metric.Int64Counter, kv ...string) {
	Add(ctx, c, 1, kv...)
}

func attrs(kv []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, attribute.String(kv[i], kv[i+1]))
	}
	return out
}
