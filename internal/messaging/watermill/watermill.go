package watermill

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/messaging"
)

// Broker adapts a watermill publisher and subscriber to the messaging contracts.
type Broker struct {
	pub   message.Publisher
	sub   message.Subscriber
	codec messaging.Codec
}

// NewBroker wraps any watermill pub/sub pair.
func NewBroker(pub message.Publisher, sub message.Subscriber, codec messaging.Codec) *Broker {
	return &Broker{pub: pub, sub: sub, codec: codec}
}

// NewGoChannel creates an in-process broker. Messages published before a
// subscriber arrives are kept and replayed to it.
func NewGoChannel(codec messaging.Codec, logger watermill.LoggerAdapter) *Broker {
	ps := gochannel.NewGoChannel(gochannel.Config{
		Persistent:          true,
		OutputChannelBuffer: 64,
	}, logger)
	return NewBroker(ps, ps, codec)
}

// partitionByAggregate keeps every event of one aggregate on the same partition.
func partitionByAggregate(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(messaging.HeaderAggregateID), nil
}

// NewKafka creates a broker on watermill-kafka, consuming as consumerGroup.
func NewKafka(brokers []string, consumerGroup string, codec messaging.Codec, logger watermill.LoggerAdapter) (*Broker, error) {
	marshaler := kafka.NewWithPartitioningMarshaler(partitionByAggregate)

	pubCfg := kafka.DefaultSaramaSyncPublisherConfig()
	pubCfg.Producer.RequiredAcks = sarama.WaitForAll
	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             marshaler,
		OverwriteSaramaConfig: pubCfg,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	subCfg := kafka.DefaultSaramaSubscriberConfig()
	subCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	sub, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           marshaler,
		OverwriteSaramaConfig: subCfg,
		ConsumerGroup:         consumerGroup,
	}, logger)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}
	return NewBroker(pub, sub, codec), nil
}

func (b *Broker) Publish(ctx context.Context, topic string, env entity.Envelope) error {
	m, err := messaging.Encode(b.codec, env)
	if err != nil {
		return err
	}
	msg := message.NewMessage(env.EventID, m.Value)
	for k, v := range m.Headers {
		msg.Metadata.Set(k, v)
	}
	msg.SetContext(ctx)
	if err := b.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s v%d of %s: %w", env.Type, env.Version, env.AggregateID, err)
	}
	return nil
}

// Subscribe relies on watermill holding back the next message of a
// partition until the current one is acked, and resending it on nack.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan messaging.Delivery, error) {
	msgs, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan messaging.Delivery)
	go func() {
		defer close(out)
		for msg := range msgs {
			env, decodeErr := b.codec.Unmarshal(msg.Payload)
			d := messaging.NewDelivery(env, decodeErr,
				func() error {
					if !msg.Ack() {
						return errors.New("message was already nacked")
					}
					return nil
				},
				func() error {
					msg.Nack()
					return nil
				},
			)
			select {
			case out <- d:
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (b *Broker) Close() error {
	errPub := b.pub.Close()
	if any(b.sub) == any(b.pub) {
		return errPub
	}
	return errors.Join(errPub, b.sub.Close())
}
