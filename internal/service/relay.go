package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/pkg/retry"
)

// Relay republishes events that were persisted but never made it to the transport.
type Relay struct {
	store    *EventStore
	interval time.Duration
	batch    int
	policy   retry.Policy
}

func NewRelay(store *EventStore, interval time.Duration, batch int) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 500
	}
	return &Relay{
		store:    store,
		interval: interval,
		batch:    batch,
		policy:   retry.Policy{Initial: interval, Max: 2 * time.Minute, Multiplier: 2},
	}
}

// Run flushes every interval until ctx ends. Consecutive failures back off
// exponentially.
func (r *Relay) Run(ctx context.Context) error {
	b := r.policy.NewBackOff()
	wait := r.interval
	for {
		if err := retry.Sleep(ctx, wait); err != nil {
			log.Info("Relay shutting down")
			return nil
		}
		n, err := r.Flush(ctx)
		if err != nil {
			wait = b.NextBackOff()
			log.WithError(err).WithField("retry_in", wait).Warn("Relay flush failed")
			continue
		}
		b.Reset()
		wait = r.interval
		if n > 0 {
			log.WithField("published", n).Info("Relay published pending events")
		}
	}
}

// Flush publishes one batch of pending events, aggregate by aggregate.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.store.log.Unpublished(ctx, "", r.batch)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	total := 0
	var firstErr error
	for _, rec := range pending {
		if seen[rec.AggregateID] {
			continue
		}
		seen[rec.AggregateID] = true
		n, err := r.store.PublishPending(ctx, rec.AggregateID)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}
