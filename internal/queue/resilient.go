package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var _ Publisher = (*ResilientPublisher)(nil)

// ResilientPublisher retries publishes with backoff behind a circuit breaker,
// so a broker outage fails messages fast instead of stalling every worker.
type ResilientPublisher struct {
	next     Publisher
	cb       *gobreaker.CircuitBreaker
	attempts uint
	delay    time.Duration
}

type ResilienceSettings struct {
	Attempts     uint
	Delay        time.Duration
	BreakerTrips uint32
	BreakerOpen  time.Duration
}

func NewResilientPublisher(next Publisher, settings ResilienceSettings) *ResilientPublisher {
	if settings.Attempts == 0 {
		settings.Attempts = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Broker",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     settings.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return settings.BreakerTrips > 0 && counts.ConsecutiveFailures >= settings.BreakerTrips
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logrus.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &ResilientPublisher{
		next:     next,
		cb:       cb,
		attempts: settings.Attempts,
		delay:    settings.Delay,
	}
}

func (r *ResilientPublisher) Publish(ctx context.Context, topic string, msg *Message) error {
	err := retry.Do(
		func() error {
			_, err := r.cb.Execute(func() (interface{}, error) {
				return nil, r.next.Publish(ctx, topic, msg)
			})
			return err
		},
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			logrus.Warnf("retrying publish to %s (attempt %d): %v", topic, n+1, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %v", ErrBrokerUnavailable, topic, err)
	}

	return nil
}
