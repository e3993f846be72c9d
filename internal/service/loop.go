package service

import (
	"context"
	"errors"
	"time"

	"github.com/emrgen/newsimport/internal/queue"
	"github.com/emrgen/newsimport/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Outcome is how a delivery is settled after handling.
type Outcome int

const (
	// Ack settles a processed message.
	Ack Outcome = iota
	// Drop settles a message that can never succeed.
	Drop
	// Retry hands the message back for redelivery.
	Retry
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	case Retry:
		return "retry"
	}
	return "unknown"
}

// Classify maps a handling error to an outcome. Content errors are
// permanent; everything else is assumed to be infrastructure and retried.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, ErrMalformedMessage), errors.Is(err, ErrUnknownArticle):
		return Drop
	default:
		return Retry
	}
}

// Handler processes the body of one inbound message.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// Loop consumes the item topic one message at a time.
type Loop struct {
	consumer queue.Consumer
	topic    string
	handler  Handler
	metrics  *telemetry.Metrics
	backoff  time.Duration
}

func NewLoop(consumer queue.Consumer, topic string, handler Handler, metrics *telemetry.Metrics) *Loop {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Loop{
		consumer: consumer,
		topic:    topic,
		handler:  handler,
		metrics:  metrics,
		backoff:  time.Second,
	}
}

// SetBackoff sets the pause after a message is handed back for redelivery.
func (l *Loop) SetBackoff(backoff time.Duration) {
	l.backoff = backoff
}

// Run blocks until ctx is done or the broker stops delivering.
func (l *Loop) Run(ctx context.Context) error {
	deliveries, err := l.consumer.Consume(ctx, l.topic)
	if err != nil {
		return err
	}

	logrus.Infof("consuming %s", l.topic)
	for delivery := range deliveries {
		if l.process(ctx, delivery) == Retry {
			select {
			case <-ctx.Done():
			case <-time.After(l.backoff):
			}
		}
	}

	return nil
}

func (l *Loop) process(ctx context.Context, delivery queue.Delivery) Outcome {
	msg := delivery.Message()
	err := l.handler.Handle(ctx, msg.Body)
	outcome := Classify(err)

	log := logrus.WithFields(logrus.Fields{
		"topic":   l.topic,
		"message": msg.ID,
		"key":     msg.Key,
		"outcome": outcome.String(),
	})

	// settle even when ctx is already cancelled so the broker learns the result
	settleCtx := context.WithoutCancel(ctx)
	switch outcome {
	case Ack:
		err = delivery.Ack(settleCtx)
	case Drop:
		log.WithError(err).Warn("dropping message")
		err = delivery.Ack(settleCtx)
	case Retry:
		log.WithError(err).Error("message failed, requesting redelivery")
		err = delivery.Nack(settleCtx)
	}
	if err != nil {
		log.WithError(err).Error("failed to settle message")
	}

	l.metrics.Message(ctx, outcome.String())
	return outcome
}
