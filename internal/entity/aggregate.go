package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventStoreRecord represents an event stored in the event log.
type EventStoreRecord struct {
	EventID     string    `json:"event_id" db:"event_id"`
	AggregateID string    `json:"aggregate_id" db:"aggregate_id"`
	Version     int       `json:"version" db:"version"`
	EventType   string    `json:"event_type" db:"event_type"`
	Payload     []byte    `json:"payload" db:"payload"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Envelope carries the fields shared by every event together with the variant payload.
type Envelope struct {
	EventID     string
	AggregateID string
	Version     int
	Type        string
	OccurredAt  time.Time
	Payload     Event
}

// Record converts the envelope into its persisted shape.
func (e Envelope) Record() (EventStoreRecord, error) {
	payload, err := EncodeEvent(e.Payload)
	if err != nil {
		return EventStoreRecord{}, err
	}
	return EventStoreRecord{
		EventID:     e.EventID,
		AggregateID: e.AggregateID,
		Version:     e.Version,
		EventType:   e.Type,
		Payload:     payload,
		CreatedAt:   e.OccurredAt,
	}, nil
}

// FromRecord decodes a persisted record back into an envelope.
func FromRecord(rec EventStoreRecord) (Envelope, error) {
	ev, err := DecodeEvent(rec.EventType, rec.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("event %s v%d of %s: %w", rec.EventType, rec.Version, rec.AggregateID, err)
	}
	return Envelope{
		EventID:     rec.EventID,
		AggregateID: rec.AggregateID,
		Version:     rec.Version,
		Type:        rec.EventType,
		OccurredAt:  rec.CreatedAt,
		Payload:     ev,
	}, nil
}

// EncodeEvent marshals the variant payload.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrUnknownEventType)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", ev.EventType(), err)
	}
	return payload, nil
}

// DecodeEvent unmarshals a payload into the variant named by eventType.
func DecodeEvent(eventType string, payload []byte) (Event, error) {
	var ev Event
	switch eventType {
	case TypePostCreated:
		ev = &PostCreated{}
	case TypeMessageUpdated:
		ev = &MessageUpdated{}
	case TypePostLiked:
		ev = &PostLiked{}
	case TypeCommentAdded:
		ev = &CommentAdded{}
	case TypeCommentUpdated:
		ev = &CommentUpdated{}
	case TypeCommentRemoved:
		ev = &CommentRemoved{}
	case TypePostRemoved:
		ev = &PostRemoved{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s: %w", eventType, err)
		}
	}
	return deref(ev), nil
}

// deref turns the decode target back into a value variant so type switches
// only ever see one shape per event.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *PostCreated:
		return *e
	case *MessageUpdated:
		return *e
	case *PostLiked:
		return *e
	case *CommentAdded:
		return *e
	case *CommentUpdated:
		return *e
	case *CommentRemoved:
		return *e
	case *PostRemoved:
		return *e
	}
	return ev
}

// Aggregate represents a domain aggregate root.
type Aggregate interface {
	GetAggregateID() string
	GetVersion() int
	ApplyEvent(env Envelope) error
}

// Rehydrate replays records onto agg in order. It never raises events.
func Rehydrate(agg Aggregate, records []EventStoreRecord) error {
	for _, rec := range records {
		env, err := FromRecord(rec)
		if err != nil {
			return fmt.Errorf("failed to decode event from stream: %w", err)
		}
		if err := agg.ApplyEvent(env); err != nil {
			return fmt.Errorf("failed to apply event %d of %s: %w", env.Version, agg.GetAggregateID(), err)
		}
	}
	return nil
}

// AggregateBase provides a basic implementation for an aggregate.
type AggregateBase struct {
	ID      string
	Version int

	changes []Envelope
}

func (a *AggregateBase) GetAggregateID() string {
	return a.ID
}

func (a *AggregateBase) GetVersion() int {
	return a.Version
}

// OriginalVersion is the version the aggregate had before any uncommitted change.
func (a *AggregateBase) OriginalVersion() int {
	return a.Version - len(a.changes)
}

// UncommittedChanges returns the events raised since the aggregate was loaded or last saved.
func (a *AggregateBase) UncommittedChanges() []Envelope {
	out := make([]Envelope, len(a.changes))
	copy(out, a.changes)
	return out
}

// MarkChangesAsCommitted clears the pending list after a successful append.
func (a *AggregateBase) MarkChangesAsCommitted() {
	a.changes = nil
}

func (a *AggregateBase) checkNext(env Envelope) error {
	if env.AggregateID != "" && a.ID != "" && env.AggregateID != a.ID {
		return fmt.Errorf("event for %s applied to aggregate %s", env.AggregateID, a.ID)
	}
	if env.Version != a.Version+1 {
		return fmt.Errorf("%w: aggregate %s at version %d got event version %d", ErrVersionGap, a.ID, a.Version, env.Version)
	}
	return nil
}
