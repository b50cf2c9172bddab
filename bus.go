package main

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/internal/config"
	"github.com/egannguyen/go-kafka-social/internal/messaging"
	"github.com/egannguyen/go-kafka-social/internal/messaging/amqp"
	"github.com/egannguyen/go-kafka-social/internal/messaging/kafka"
	"github.com/egannguyen/go-kafka-social/internal/messaging/watermill"
)

// bus is the publish/subscribe transport between the write side and the projector.
type bus struct {
	pub messaging.Publisher
	sub messaging.Subscriber
}

func (b bus) Close() error {
	errPub := b.pub.Close()
	if any(b.sub) == any(b.pub) {
		return errPub
	}
	return errors.Join(errPub, b.sub.Close())
}

func openBus(cfg config.Config) (bus, error) {
	codec, err := messaging.CodecFor(cfg.WireFormat)
	if err != nil {
		return bus{}, err
	}

	switch cfg.BusDriver {
	case "kafka":
		pub, sub := kafka.NewKafkaBroker(cfg.KafkaBrokers, cfg.ConsumerGroup, codec)
		return bus{pub: pub, sub: sub}, nil
	case "watermill-kafka":
		b, err := watermill.NewKafka(cfg.KafkaBrokers, cfg.ConsumerGroup, codec, watermill.NewLogger(log.StandardLogger()))
		if err != nil {
			return bus{}, err
		}
		return bus{pub: b, sub: b}, nil
	case "amqp":
		b, err := amqp.NewBroker(cfg.AMQPURL, cfg.ConsumerGroup, codec)
		if err != nil {
			return bus{}, err
		}
		return bus{pub: b, sub: b}, nil
	case "memory":
		b := watermill.NewGoChannel(codec, watermill.NewLogger(log.StandardLogger()))
		return bus{pub: b, sub: b}, nil
	default:
		return bus{}, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
	}
}
