package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/messaging"
	"github.com/egannguyen/go-kafka-social/internal/repository"
	"github.com/egannguyen/go-kafka-social/pkg/retry"
)

// ErrUndecodable wraps deliveries whose payload could not be decoded.
var ErrUndecodable = errors.New("undecodable delivery")

// Consumer pulls events from the transport and applies them to the read model.
type Consumer struct {
	sub      messaging.Subscriber
	topic    string
	handler  *Handler
	eventLog repository.EventLog
	policy   retry.Policy
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithEventLog lets the consumer fill version gaps from the event log
// instead of waiting for redelivery.
func WithEventLog(l repository.EventLog) ConsumerOption {
	return func(c *Consumer) { c.eventLog = l }
}

// WithRetryPolicy sets the backoff used between redeliveries.
func WithRetryPolicy(p retry.Policy) ConsumerOption {
	return func(c *Consumer) { c.policy = p }
}

func NewConsumer(sub messaging.Subscriber, topic string, handler *Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		sub:     sub,
		topic:   topic,
		handler: handler,
		policy:  retry.Policy{Initial: 200 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled or a fatal error occurs. After
// cancellation no new delivery is taken, the one being applied is finished
// and acked, and Run returns nil. Unknown event types and undecodable
// payloads are fatal and returned.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.sub.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.topic, err)
	}
	log.WithField("topic", c.topic).Info("Projection consumer started")

	b := c.policy.NewBackOff()
	for {
		select {
		case <-ctx.Done():
			log.WithField("topic", c.topic).Info("Projection consumer shutting down")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				log.WithField("topic", c.topic).Info("Subscription closed")
				return nil
			}
			if ctx.Err() != nil {
				_ = d.Nack()
				return nil
			}
			retryable, err := c.process(ctx, d)
			if err == nil {
				b.Reset()
				continue
			}
			if !retryable {
				return err
			}
			wait := b.NextBackOff()
			log.WithError(err).WithFields(log.Fields{
				"aggregate_id": d.Envelope.AggregateID,
				"version":      d.Envelope.Version,
				"retry_in":     wait,
			}).Warn("Failed to apply event, will redeliver")
			_ = retry.Sleep(ctx, wait)
			if nerr := d.Nack(); nerr != nil {
				log.WithError(nerr).Error("Failed to nack delivery")
			}
		}
	}
}

// process applies one delivery and acks it on success. The apply runs on a
// context detached from cancellation so an in-flight event always completes.
// On error the delivery is left for the caller to nack.
func (c *Consumer) process(ctx context.Context, d messaging.Delivery) (retryable bool, err error) {
	if d.Err != nil {
		_ = d.Nack()
		return false, fmt.Errorf("%w: %w", ErrUndecodable, d.Err)
	}

	applyCtx := context.WithoutCancel(ctx)
	env := d.Envelope
	outcome, err := c.handler.Apply(applyCtx, env)
	if errors.Is(err, entity.ErrVersionGap) && c.eventLog != nil {
		if _, rerr := Replay(applyCtx, c.eventLog, c.handler, env.AggregateID); rerr != nil {
			err = fmt.Errorf("%w (gap fill failed: %v)", err, rerr)
		} else {
			outcome, err = c.handler.Apply(applyCtx, env)
		}
	}
	if err != nil {
		if errors.Is(err, entity.ErrUnknownEventType) {
			_ = d.Nack()
			return false, err
		}
		return true, err
	}

	if err := d.Ack(); err != nil {
		// The event is applied; a redelivery will be recognised as a duplicate.
		log.WithError(err).WithField("aggregate_id", env.AggregateID).Warn("Failed to commit delivery")
	}
	log.WithFields(log.Fields{
		"aggregate_id": env.AggregateID,
		"version":      env.Version,
		"event_type":   env.Type,
		"outcome":      outcome.String(),
	}).Debug("Event projected")
	return false, nil
}
