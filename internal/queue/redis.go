package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var _ Broker = (*RedisBroker)(nil)

const (
	redisFieldID      = "id"
	redisFieldKey     = "key"
	redisFieldBody    = "body"
	redisHeaderPrefix = "h:"
	redisBlock        = time.Second
)

// RedisBroker maps topics onto redis streams read through a consumer group.
// Unacked entries stay in the group's pending list. A Nack makes the same
// consumer read its pending list again before new entries; entries of a
// consumer that went away are claimed once idle longer than claimIdle.
type RedisBroker struct {
	client    *redis.Client
	group     string
	consumer  string
	claimIdle time.Duration
}

func NewRedisBroker(client *redis.Client, group, consumer string, claimIdle time.Duration) *RedisBroker {
	return &RedisBroker{
		client:    client,
		group:     group,
		consumer:  consumer,
		claimIdle: claimIdle,
	}
}

func (r *RedisBroker) Publish(ctx context.Context, topic string, msg *Message) error {
	values := map[string]interface{}{
		redisFieldID:   msg.ID,
		redisFieldKey:  msg.Key,
		redisFieldBody: msg.Body,
	}
	for name, value := range msg.Headers {
		values[redisHeaderPrefix+name] = value
	}

	if err := r.client.XAdd(ctx, &redis.XAddArgs{Stream: topic, Values: values}).Err(); err != nil {
		return fmt.Errorf("%w: xadd %s: %v", ErrBrokerUnavailable, topic, err)
	}
	return nil
}

func (r *RedisBroker) Consume(ctx context.Context, topic string) (<-chan Delivery, error) {
	err := r.client.XGroupCreateMkStream(ctx, topic, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("%w: create group %s: %v", ErrBrokerUnavailable, topic, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)

		// entries this consumer read before a restart come first
		cursor := "0"
		for ctx.Err() == nil {
			msg, err := r.next(ctx, topic, &cursor)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logrus.Errorf("redis: read %s: %v", topic, err)
				select {
				case <-time.After(redisBlock):
				case <-ctx.Done():
					return
				}
				continue
			}
			if msg == nil {
				continue
			}

			if _, ok := msg.Values[redisFieldBody]; !ok {
				// trimmed from the stream while pending, nothing left to deliver
				_ = r.client.XAck(ctx, topic, r.group, msg.ID).Err()
				continue
			}

			d := &redisDelivery{broker: r, topic: topic, id: msg.ID, message: fromStream(msg), settled: make(chan struct{})}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}

			<-d.settled
			if d.nacked {
				// read own pending entries again so the nacked one comes
				// back before anything newer
				cursor = "0"
			}
		}
	}()

	return out, nil
}

// next returns the next entry to deliver: own pending entries after a
// restart, then stale entries of any consumer, then new entries.
func (r *RedisBroker) next(ctx context.Context, topic string, cursor *string) (*redis.XMessage, error) {
	if *cursor != "" {
		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{topic, *cursor},
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if msg := firstMessage(streams); msg != nil {
			*cursor = msg.ID
			return msg, nil
		}
		*cursor = ""
	}

	claimed, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  r.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(claimed) > 0 {
		return &claimed[0], nil
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{topic, ">"},
		Count:    1,
		Block:    redisBlock,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	return firstMessage(streams), nil
}

func firstMessage(streams []redis.XStream) *redis.XMessage {
	for _, stream := range streams {
		if len(stream.Messages) > 0 {
			return &stream.Messages[0]
		}
	}
	return nil
}

func fromStream(entry *redis.XMessage) *Message {
	msg := &Message{Headers: make(map[string]string)}
	for field, value := range entry.Values {
		text := fmt.Sprint(value)
		switch {
		case field == redisFieldID:
			msg.ID = text
		case field == redisFieldKey:
			msg.Key = text
		case field == redisFieldBody:
			msg.Body = []byte(text)
		case strings.HasPrefix(field, redisHeaderPrefix):
			msg.Headers[strings.TrimPrefix(field, redisHeaderPrefix)] = text
		}
	}
	return msg
}

func (r *RedisBroker) Close() error {
	return r.client.Close()
}

type redisDelivery struct {
	broker  *RedisBroker
	topic   string
	id      string
	message *Message
	nacked  bool
	once    sync.Once
	settled chan struct{}
}

func (d *redisDelivery) Message() *Message {
	return d.message
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	defer d.settle()

	if err := d.broker.client.XAck(ctx, d.topic, d.broker.group, d.id).Err(); err != nil {
		return fmt.Errorf("%w: xack %s: %v", ErrBrokerUnavailable, d.id, err)
	}
	return nil
}

// Nack leaves the entry pending; the consumer reads it again next.
func (d *redisDelivery) Nack(ctx context.Context) error {
	d.once.Do(func() {
		d.nacked = true
		close(d.settled)
	})
	return nil
}

func (d *redisDelivery) settle() {
	d.once.Do(func() {
		close(d.settled)
	})
}
