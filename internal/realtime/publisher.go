package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlearn/internal/bus"
)

// Stream entry fields.
const (
	FieldType    = "type"
	FieldSession = "session"
	FieldAt      = "at"
	FieldData    = "data"
)

// Appender is the stream write a Publisher needs.
type Appender interface {
	Append(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// Publisher copies bus events onto a stream.
type Publisher struct {
	out     Appender
	stream  string
	timeout time.Duration
	log     zerolog.Logger
}

// NewPublisher writes to stream through out.
func NewPublisher(out Appender, stream string, log zerolog.Logger) *Publisher {
	return &Publisher{
		out:     out,
		stream:  stream,
		timeout: 2 * time.Second,
		log:     log.With().Str("component", "realtime").Str("stream", stream).Logger(),
	}
}

// Attach subscribes the publisher to every event type on b. Word reveal
// ticks are skipped; the stream carries lesson-level progress.
func (p *Publisher) Attach(b *bus.EventBus) bus.SubscriptionID {
	var types []bus.EventType
	for _, t := range bus.AllEventTypes() {
		if t != bus.EventTypeWordRevealed {
			types = append(types, t)
		}
	}
	return b.SubscribeMultiple(types, p.Handle)
}

// Handle appends one event. Failures are logged; the session never waits
// on the stream.
func (p *Publisher) Handle(e bus.Event) {
	values, err := Encode(e)
	if err != nil {
		p.log.Warn().Err(err).Str("type", string(e.Type)).Msg("event not encodable")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if _, err := p.out.Append(ctx, p.stream, values); err != nil {
		p.log.Warn().Err(err).Str("type", string(e.Type)).Msg("event not published")
	}
}

// Encode flattens an event into stream fields. Data is JSON.
func Encode(e bus.Event) (map[string]interface{}, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", e.Type, err)
	}
	return map[string]interface{}{
		FieldType:    string(e.Type),
		FieldSession: e.SessionID,
		FieldAt:      e.At.UTC().Format(time.RFC3339Nano),
		FieldData:    string(data),
	}, nil
}

// Decode rebuilds an event from stream fields.
func Decode(values map[string]interface{}) (bus.Event, error) {
	var e bus.Event
	typ, _ := values[FieldType].(string)
	if typ == "" {
		return e, fmt.Errorf("stream entry has no %s field", FieldType)
	}
	e.Type = bus.EventType(typ)
	e.SessionID, _ = values[FieldSession].(string)

	if at, ok := values[FieldAt].(string); ok && at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return e, fmt.Errorf("decode %s: %w", FieldAt, err)
		}
		e.At = t
	}
	if raw, ok := values[FieldData].(string); ok && raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &e.Data); err != nil {
			return e, fmt.Errorf("decode %s: %w", FieldData, err)
		}
	}
	return e, nil
}
