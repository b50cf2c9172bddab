package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/messaging"
	"github.com/egannguyen/go-kafka-social/pkg/retry"
)

// fetchPolicy paces FetchMessage retries while the broker is unreachable.
var fetchPolicy = retry.Policy{Initial: 200 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2}

type kafkaBroker struct {
	brokers []string
	groupID string
	codec   messaging.Codec

	mu      sync.Mutex
	writers map[string]*kafkaGo.Writer
	readers []*kafkaGo.Reader
}

// NewKafkaBroker creates a new Kafka publisher and subscriber. Consumers join groupID.
func NewKafkaBroker(brokers []string, groupID string, codec messaging.Codec) (messaging.Publisher, messaging.Subscriber) {
	kb := &kafkaBroker{
		brokers: brokers,
		groupID: groupID,
		codec:   codec,
		writers: make(map[string]*kafkaGo.Writer),
	}
	return kb, kb
}

// writer returns the topic writer. The hash balancer keeps one aggregate on one partition.
func (k *kafkaBroker) writer(topic string) *kafkaGo.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	w, ok := k.writers[topic]
	if !ok {
		w = &kafkaGo.Writer{
			Addr:         kafkaGo.TCP(k.brokers...),
			Topic:        topic,
			Balancer:     &kafkaGo.Hash{},
			RequiredAcks: kafkaGo.RequireAll,
		}
		k.writers[topic] = w
	}
	return w
}

func (k *kafkaBroker) Publish(ctx context.Context, topic string, env entity.Envelope) error {
	msg, err := messaging.Encode(k.codec, env)
	if err != nil {
		return err
	}
	headers := make([]kafkaGo.Header, 0, len(msg.Headers))
	for key, value := range msg.Headers {
		headers = append(headers, kafkaGo.Header{Key: key, Value: []byte(value)})
	}

	if err := k.writer(topic).WriteMessages(ctx, kafkaGo.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("failed to publish %s v%d of %s: %w", env.Type, env.Version, env.AggregateID, err)
	}
	return nil
}

func (k *kafkaBroker) Subscribe(ctx context.Context, topic string) (<-chan messaging.Delivery, error) {
	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     k.groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkaGo.FirstOffset,
	})
	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	out := make(chan messaging.Delivery)
	go k.consume(ctx, reader, out)
	return out, nil
}

// consume fetches without committing; offsets are committed only when the
// consumer acks, so a crash before ack means redelivery.
func (k *kafkaBroker) consume(ctx context.Context, reader *kafkaGo.Reader, out chan<- messaging.Delivery) {
	defer close(out)
	topic := reader.Config().Topic
	b := fetchPolicy.NewBackOff()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				log.WithField("topic", topic).Info("Consumer shutting down")
				return
			}
			wait := b.NextBackOff()
			log.WithError(err).WithFields(log.Fields{"topic": topic, "wait": wait}).Error("Error reading message")
			if retry.Sleep(ctx, wait) != nil {
				log.WithField("topic", topic).Info("Consumer shutting down")
				return
			}
			continue
		}
		b.Reset()

		env, decodeErr := k.codec.Unmarshal(msg.Value)
		commit := func() error {
			return reader.CommitMessages(context.Background(), msg)
		}
		if err := messaging.DeliverUntilAcked(ctx, out, env, decodeErr, commit); err != nil {
			log.WithField("topic", topic).Info("Consumer shutting down")
			return
		}
	}
}

func (k *kafkaBroker) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var errs []error
	for _, w := range k.writers {
		errs = append(errs, w.Close())
	}
	for _, r := range k.readers {
		errs = append(errs, r.Close())
	}
	k.writers = make(map[string]*kafkaGo.Writer)
	k.readers = nil
	return errors.Join(errs...)
}
