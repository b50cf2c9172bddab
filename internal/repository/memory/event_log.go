package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/repository"
)

type storedEvent struct {
	record    entity.EventStoreRecord
	published bool
}

// EventLog is an in-process event log. The mutex is the per-aggregate
// point of mutual exclusion for the version check.
type EventLog struct {
	mu      sync.Mutex
	streams map[string][]*storedEvent
	byID    map[string]*storedEvent
}

var _ repository.EventLog = (*EventLog)(nil)

// NewEventLog creates an empty in-memory EventLog.
func NewEventLog() *EventLog {
	return &EventLog{
		streams: make(map[string][]*storedEvent),
		byID:    make(map[string]*storedEvent),
	}
}

func (l *EventLog) Append(ctx context.Context, aggregateID string, expectedVersion int, events []entity.Envelope) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recs := make([]entity.EventStoreRecord, 0, len(events))
	for _, env := range events {
		rec, err := env.Record()
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stream := l.streams[aggregateID]
	if current := len(stream); current != expectedVersion {
		return fmt.Errorf("%w: stream %s expected version %d, got %d", entity.ErrConcurrency, aggregateID, expectedVersion, current)
	}
	for i, rec := range recs {
		if rec.Version != expectedVersion+i+1 {
			return fmt.Errorf("%w: stream %s event version %d after %d", entity.ErrVersionGap, aggregateID, rec.Version, expectedVersion+i)
		}
		if _, dup := l.byID[rec.EventID]; dup {
			return fmt.Errorf("%w: event id %s", entity.ErrAlreadyExists, rec.EventID)
		}
	}
	for _, rec := range recs {
		se := &storedEvent{record: rec}
		stream = append(stream, se)
		l.byID[rec.EventID] = se
	}
	l.streams[aggregateID] = stream
	return nil
}

func (l *EventLog) Load(ctx context.Context, aggregateID string) ([]entity.EventStoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	stream := l.streams[aggregateID]
	out := make([]entity.EventStoreRecord, 0, len(stream))
	for _, se := range stream {
		out = append(out, se.record)
	}
	return out, nil
}

func (l *EventLog) Unpublished(ctx context.Context, aggregateID string, limit int) ([]entity.EventStoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := []string{aggregateID}
	if aggregateID == "" {
		ids = make([]string, 0, len(l.streams))
		for id := range l.streams {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	var out []entity.EventStoreRecord
	for _, id := range ids {
		for _, se := range l.streams[id] {
			if se.published {
				continue
			}
			out = append(out, se.record)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (l *EventLog) MarkPublished(ctx context.Context, eventIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range eventIDs {
		if se, ok := l.byID[id]; ok {
			se.published = true
		}
	}
	return nil
}
