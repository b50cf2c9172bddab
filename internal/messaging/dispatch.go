package messaging

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/pkg/retry"
)

// commitPolicy paces commit retries after an ack.
var commitPolicy = retry.Default

// DeliverUntilAcked hands one message to out and waits for the consumer's
// verdict. A nack hands the same message over again. An ack runs commit,
// retried with backoff; a commit that still fails is returned to the acker
// but does not redeliver, since offsets are cumulative and the next commit
// covers this message. commit must not depend on ctx, so an in-flight
// delivery can still be committed after cancellation. It returns ctx.Err()
// if ctx ends before the message is handed over.
func DeliverUntilAcked(ctx context.Context, out chan<- Delivery, env entity.Envelope, decodeErr error, commit func() error) error {
	for {
		acked := make(chan bool, 1)
		d := NewDelivery(env, decodeErr,
			func() error {
				err := retry.Do(context.Background(), commitPolicy, "commit", commit)
				if err != nil {
					log.WithError(err).WithFields(log.Fields{
						"aggregate_id": env.AggregateID,
						"version":      env.Version,
					}).Warn("Commit failed, leaving it to the next one")
				}
				verdict(acked, true)
				return err
			},
			func() error {
				verdict(acked, false)
				return nil
			},
		)

		select {
		case out <- d:
		case <-ctx.Done():
			return ctx.Err()
		}

		if <-acked {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// verdict records only the first ack or nack of a delivery.
func verdict(ch chan bool, ok bool) {
	select {
	case ch <- ok:
	default:
	}
}
