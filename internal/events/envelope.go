package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinal-relay/internal/payload"
)

// HeaderMessageID carries the idempotency token on the transport.
const HeaderMessageID = "messageId"

// Envelope is the wire shape of every broker message.
type Envelope struct {
	EventType   EventType    `json:"eventType"`
	AggregateID string       `json:"id"`
	Timestamp   int64        `json:"timestamp"`
	Data        *payload.Map `json:"data"`
}

var (
	ErrMissingEventType   = errors.New("envelope: missing eventType")
	ErrMissingAggregateID = errors.New("envelope: missing id")
)

// NewEnvelope stamps an envelope with the given time in epoch milliseconds.
func NewEnvelope(eventType EventType, aggregateID string, at time.Time, data *payload.Map) Envelope {
	if data == nil {
		data = payload.NewMap()
	}
	return Envelope{
		EventType:   eventType,
		AggregateID: aggregateID,
		Timestamp:   at.UnixMilli(),
		Data:        data,
	}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes a broker value and checks the routing fields.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var wire struct {
		EventType   string          `json:"eventType"`
		AggregateID json.RawMessage `json:"id"`
		Timestamp   json.RawMessage `json:"timestamp"`
		Data        *payload.Map    `json:"data"`
		MessageID   json.RawMessage `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}

	env := Envelope{
		EventType:   EventType(strings.TrimSpace(wire.EventType)),
		AggregateID: idText(wire.AggregateID),
		Data:        wire.Data,
	}
	var ts int64
	if err := json.Unmarshal(wire.Timestamp, &ts); err == nil {
		env.Timestamp = ts
	}
	if env.Data == nil {
		env.Data = payload.NewMap()
	}
	if token := idText(wire.MessageID); token != "" {
		if _, ok := env.Data.Get(HeaderMessageID); !ok {
			env.Data.Set(HeaderMessageID, payload.String(token))
		}
	}

	if env.EventType == "" {
		return env, ErrMissingEventType
	}
	if env.AggregateID == "" {
		return env, ErrMissingAggregateID
	}
	return env, nil
}

// DedupToken prefers the transport header and falls back to the payload.
func DedupToken(headers map[string]string, env Envelope) string {
	if token := strings.TrimSpace(headers[HeaderMessageID]); token != "" {
		return token
	}
	return strings.TrimSpace(env.Data.GetText(HeaderMessageID))
}

// idText accepts an identifier encoded as either a JSON string or number.
func idText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
