package service

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/messaging"
	"github.com/egannguyen/go-kafka-social/internal/repository"
)

// EventStore appends to the event log and hands new events to the transport.
// The log is the durability boundary: a publish failure leaves events
// unpublished for the Relay and does not fail the append.
type EventStore struct {
	log       repository.EventLog
	publisher messaging.Publisher
	topic     string
	locks     *keyedMutex
}

func NewEventStore(eventLog repository.EventLog, publisher messaging.Publisher, topic string) *EventStore {
	return &EventStore{
		log:       eventLog,
		publisher: publisher,
		topic:     topic,
		locks:     newKeyedMutex(),
	}
}

// Load returns the ordered history of an aggregate; empty for an unknown id.
func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]entity.EventStoreRecord, error) {
	records, err := s.log.Load(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", aggregateID, err)
	}
	return records, nil
}

// LoadAggregate rehydrates a post from its history.
func (s *EventStore) LoadAggregate(ctx context.Context, aggregateID string) (*entity.PostAggregate, error) {
	records, err := s.Load(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	agg := entity.NewPostAggregate(aggregateID)
	if err := agg.Rehydrate(records); err != nil {
		return nil, fmt.Errorf("failed to rehydrate post %s: %w", aggregateID, err)
	}
	log.WithFields(log.Fields{
		"aggregate_id": agg.GetAggregateID(),
		"version":      agg.GetVersion(),
	}).Debug("Aggregate loaded")
	return agg, nil
}

// Append persists events whose versions must continue gaplessly from
// expectedVersion, then publishes every pending event of the aggregate in
// version order.
func (s *EventStore) Append(ctx context.Context, aggregateID string, expectedVersion int, events []entity.Envelope) error {
	if len(events) == 0 {
		return nil
	}
	for i, env := range events {
		if env.AggregateID != aggregateID {
			return fmt.Errorf("%w: event %s belongs to %s, not %s", entity.ErrInvalidArgument, env.EventID, env.AggregateID, aggregateID)
		}
		if env.Version != expectedVersion+i+1 {
			return fmt.Errorf("%w: event version %d after %d", entity.ErrVersionGap, env.Version, expectedVersion+i)
		}
	}

	if err := s.log.Append(ctx, aggregateID, expectedVersion, events); err != nil {
		return err
	}

	if n, err := s.PublishPending(ctx, aggregateID); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"aggregate_id": aggregateID,
			"published":    n,
		}).Warn("Publication pending, relay will retry")
	}
	return nil
}

// PublishPending publishes the unpublished events of one aggregate in
// version order and stops at the first failure so no later version overtakes
// an earlier one. It returns how many events were published.
func (s *EventStore) PublishPending(ctx context.Context, aggregateID string) (int, error) {
	unlock := s.locks.Lock(aggregateID)
	defer unlock()

	pending, err := s.log.Unpublished(ctx, aggregateID, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished events of %s: %w", aggregateID, err)
	}

	published := 0
	for _, rec := range pending {
		env, err := entity.FromRecord(rec)
		if err != nil {
			return published, err
		}
		if err := s.publisher.Publish(ctx, s.topic, env); err != nil {
			return published, err
		}
		if err := s.log.MarkPublished(ctx, []string{env.EventID}); err != nil {
			return published, fmt.Errorf("failed to mark %s published: %w", env.EventID, err)
		}
		published++
		log.WithFields(log.Fields{
			"aggregate_id": env.AggregateID,
			"version":      env.Version,
			"event_type":   env.Type,
		}).Debug("Event published")
	}
	return published, nil
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
