package messaging

import (
	"context"

	"github.com/egannguyen/go-kafka-social/internal/entity"
)

// Header names carried by every transport message.
const (
	HeaderEventType   = "event_type"
	HeaderVersion     = "version"
	HeaderAggregateID = "aggregate_id"
	HeaderContentType = "content_type"
)

// Publisher defines an interface for publishing events to a message broker.
// Messages are keyed by aggregate id so one aggregate stays on one partition.
type Publisher interface {
	Publish(ctx context.Context, topic string, env entity.Envelope) error
	Close() error
}

// Subscriber defines an interface for subscribing to a message topic.
// The channel is closed once ctx is done and no delivery is in flight.
// Every delivery received must be acked or nacked.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Delivery, error)
	Close() error
}

// Delivery is one received event. Err is set when the message could not be
// decoded; such a delivery still has to be acked or nacked.
type Delivery struct {
	Envelope entity.Envelope
	Err      error

	ack  func() error
	nack func() error
}

// NewDelivery builds a delivery from transport callbacks.
func NewDelivery(env entity.Envelope, decodeErr error, ack, nack func() error) Delivery {
	return Delivery{Envelope: env, Err: decodeErr, ack: ack, nack: nack}
}

// Ack commits consumption progress past this delivery.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack asks the transport to redeliver.
func (d Delivery) Nack() error {
	if d.nack == nil {
		return nil
	}
	return d.nack()
}
