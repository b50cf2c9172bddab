package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

// Policy describes an exponential backoff.
// With Initial = 100ms and Multiplier = 2 the waits are roughly 100ms, 200ms, 400ms...
// capped at Max. MaxTries = 0 retries until the context ends.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxTries   uint
}

// Default is used for short retries around a single operation.
var Default = Policy{
	Initial:    100 * time.Millisecond,
	Max:        5 * time.Second,
	Multiplier: 2,
	MaxTries:   6,
}

// NewBackOff returns a fresh backoff for callers that pace themselves.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.Reset()
	return b
}

// Do runs operation until it succeeds, returns a Permanent error, runs out
// of tries or ctx ends. The last error is returned.
func Do(ctx context.Context, p Policy, name string, operation func() error) error {
	attempt := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.NewBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			attempt++
			log.WithError(err).WithFields(log.Fields{
				"operation": name,
				"attempt":   attempt,
				"wait":      wait,
			}).Warn("Operation failed, retrying")
		}),
	}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, opts...)
	return err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Sleep waits d or until ctx ends, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
