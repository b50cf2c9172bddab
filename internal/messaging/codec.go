package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/egannguyen/go-kafka-social/internal/entity"
)

// Message is the transport-neutral wire form of an envelope.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Codec serializes envelopes for the wire.
type Codec interface {
	Marshal(env entity.Envelope) ([]byte, error)
	Unmarshal(data []byte) (entity.Envelope, error)
	ContentType() string
}

// wireEvent frames the envelope; Payload holds the event encoded by entity.EncodeEvent.
type wireEvent struct {
	EventID     string    `msgpack:"event_id" json:"event_id"`
	AggregateID string    `msgpack:"aggregate_id" json:"aggregate_id"`
	Version     int       `msgpack:"version" json:"version"`
	Type        string    `msgpack:"type" json:"type"`
	OccurredAt  time.Time `msgpack:"occurred_at" json:"occurred_at"`
	Payload     []byte    `msgpack:"payload" json:"payload"`
}

func toWire(env entity.Envelope) (wireEvent, error) {
	rec, err := env.Record()
	if err != nil {
		return wireEvent{}, err
	}
	return wireEvent{
		EventID:     rec.EventID,
		AggregateID: rec.AggregateID,
		Version:     rec.Version,
		Type:        rec.EventType,
		OccurredAt:  rec.CreatedAt,
		Payload:     rec.Payload,
	}, nil
}

func fromWire(w wireEvent) (entity.Envelope, error) {
	return entity.FromRecord(entity.EventStoreRecord{
		EventID:     w.EventID,
		AggregateID: w.AggregateID,
		Version:     w.Version,
		EventType:   w.Type,
		Payload:     w.Payload,
		CreatedAt:   w.OccurredAt,
	})
}

type msgpackCodec struct{}

// MsgpackCodec encodes envelopes with MessagePack.
func MsgpackCodec() Codec { return msgpackCodec{} }

func (msgpackCodec) ContentType() string { return "application/msgpack" }

func (msgpackCodec) Marshal(env entity.Envelope) ([]byte, error) {
	w, err := toWire(env)
	if err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope %s: %w", env.EventID, err)
	}
	return b, nil
}

func (msgpackCodec) Unmarshal(data []byte) (entity.Envelope, error) {
	var w wireEvent
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return entity.Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return fromWire(w)
}

type jsonCodec struct{}

// JSONCodec encodes envelopes as JSON.
func JSONCodec() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(env entity.Envelope) ([]byte, error) {
	w, err := toWire(env)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope %s: %w", env.EventID, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte) (entity.Envelope, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return entity.Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return fromWire(w)
}

// CodecFor resolves a WIRE_FORMAT value.
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", "msgpack":
		return MsgpackCodec(), nil
	case "json":
		return JSONCodec(), nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", format)
	}
}

// Encode turns an envelope into a keyed message with headers.
func Encode(c Codec, env entity.Envelope) (Message, error) {
	value, err := c.Marshal(env)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Key:   env.AggregateID,
		Value: value,
		Headers: map[string]string{
			HeaderEventType:   env.Type,
			HeaderVersion:     strconv.Itoa(env.Version),
			HeaderAggregateID: env.AggregateID,
			HeaderContentType: c.ContentType(),
		},
	}, nil
}
