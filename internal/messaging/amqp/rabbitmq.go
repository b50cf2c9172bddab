package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/messaging"
)

const exchangeName = "post_events"

// Broker publishes to a durable direct exchange using the topic as routing key.
// Each consumer group gets its own durable queue per topic.
type Broker struct {
	conn  *amqp.Connection
	codec messaging.Codec
	group string

	mu      sync.Mutex
	pubChan *amqp.Channel
	subs    []*amqp.Channel
}

// NewBroker connects to RabbitMQ and declares the exchange.
func NewBroker(url, group string, codec messaging.Codec) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Broker{conn: conn, codec: codec, group: group, pubChan: ch}, nil
}

func (b *Broker) Publish(ctx context.Context, topic string, env entity.Envelope) error {
	m, err := messaging.Encode(b.codec, env)
	if err != nil {
		return err
	}
	headers := amqp.Table{}
	for k, v := range m.Headers {
		headers[k] = v
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.pubChan.PublishWithContext(ctx,
		exchangeName,
		topic,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  b.codec.ContentType(),
			DeliveryMode: amqp.Persistent,
			MessageId:    env.EventID,
			Timestamp:    env.OccurredAt,
			Headers:      headers,
			Body:         m.Value,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s v%d of %s: %w", env.Type, env.Version, env.AggregateID, err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan messaging.Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	queue, err := ch.QueueDeclare(
		b.group+"."+topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, topic, exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}
	// One unacked message at a time keeps per-queue order.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx,
		queue.Name,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	out := make(chan messaging.Delivery)
	go func() {
		defer close(out)
		for d := range msgs {
			env, decodeErr := b.codec.Unmarshal(d.Body)
			delivery := messaging.NewDelivery(env, decodeErr,
				func() error { return d.Ack(false) },
				func() error { return d.Nack(false, true) },
			)
			select {
			case out <- delivery:
			case <-ctx.Done():
				if err := d.Nack(false, true); err != nil {
					log.WithError(err).Warn("Failed to requeue message on shutdown")
				}
				return
			}
		}
		log.WithField("queue", queue.Name).Info("Consumer shutting down")
	}()
	return out, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	var errs []error
	for _, ch := range b.subs {
		errs = append(errs, ch.Close())
	}
	b.subs = nil
	errs = append(errs, b.pubChan.Close(), b.conn.Close())
	return errors.Join(errs...)
}
