package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/sirupsen/logrus"
)

var _ Broker = (*KafkaBroker)(nil)

const kafkaPollTimeout = 500 * time.Millisecond

// KafkaBroker publishes with an idempotent producer and consumes through a
// consumer group with manual offset commits. A committed offset is the ack.
type KafkaBroker struct {
	brokers  string
	groupID  string
	producer *kafka.Producer
	done     chan struct{}
}

func NewKafkaBroker(brokers, groupID string) (*KafkaBroker, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: kafka producer: %v", ErrBrokerUnavailable, err)
	}

	k := &KafkaBroker{
		brokers:  brokers,
		groupID:  groupID,
		producer: producer,
		done:     make(chan struct{}),
	}
	go k.watchProducer()

	return k, nil
}

// watchProducer logs producer level errors; delivery reports go to the
// per message channels passed to Produce.
func (k *KafkaBroker) watchProducer() {
	for {
		select {
		case <-k.done:
			return
		case e, ok := <-k.producer.Events():
			if !ok {
				return
			}
			if kerr, ok := e.(kafka.Error); ok {
				logrus.Errorf("kafka producer: %v", kerr)
			}
		}
	}
}

func (k *KafkaBroker) Publish(ctx context.Context, topic string, msg *Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	headers = append(headers, kafka.Header{Key: HeaderMessageID, Value: []byte(msg.ID)})
	for name, value := range msg.Headers {
		headers = append(headers, kafka.Header{Key: name, Value: []byte(value)})
	}

	var key []byte
	if msg.Key != "" {
		key = []byte(msg.Key)
	}

	reports := make(chan kafka.Event, 1)
	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          msg.Body,
		Headers:        headers,
	}, reports)
	if err != nil {
		return fmt.Errorf("%w: produce to %s: %v", ErrBrokerUnavailable, topic, err)
	}

	select {
	case e := <-reports:
		report, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("%w: unexpected delivery report %v", ErrBrokerUnavailable, e)
		}
		if report.TopicPartition.Error != nil {
			return fmt.Errorf("%w: deliver to %s: %v", ErrBrokerUnavailable, topic, report.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume joins the consumer group and reads one message at a time: the next
// message is fetched only after the previous one was settled, so a Nack can
// seek the partition back before anything newer is read.
func (k *KafkaBroker) Consume(ctx context.Context, topic string) (<-chan Delivery, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":        k.brokers,
		"group.id":                 k.groupID,
		"auto.offset.reset":        "earliest",
		"enable.auto.commit":       false,
		"enable.auto.offset.store": false,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: kafka consumer: %v", ErrBrokerUnavailable, err)
	}

	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrBrokerUnavailable, topic, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() {
			if err := consumer.Close(); err != nil {
				logrus.Errorf("kafka: close consumer: %v", err)
			}
		}()

		for ctx.Err() == nil {
			raw, err := consumer.ReadMessage(kafkaPollTimeout)
			if err != nil {
				var kerr kafka.Error
				if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				logrus.Errorf("kafka: read %s: %v", topic, err)
				continue
			}

			d := newKafkaDelivery(consumer, raw)
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}

			// the consumer is closed on return, so it has to outlive every
			// delivery it handed out
			<-d.settled
		}
	}()

	return out, nil
}

func (k *KafkaBroker) Close() error {
	close(k.done)
	if remaining := k.producer.Flush(5000); remaining > 0 {
		logrus.Warnf("kafka: %d messages still unflushed at close", remaining)
	}
	k.producer.Close()
	return nil
}

type kafkaDelivery struct {
	consumer *kafka.Consumer
	raw      *kafka.Message
	message  *Message
	once     sync.Once
	settled  chan struct{}
}

func newKafkaDelivery(consumer *kafka.Consumer, raw *kafka.Message) *kafkaDelivery {
	msg := &Message{
		Key:     string(raw.Key),
		Body:    raw.Value,
		Headers: make(map[string]string, len(raw.Headers)),
	}
	for _, h := range raw.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	msg.ID = msg.Headers[HeaderMessageID]

	return &kafkaDelivery{
		consumer: consumer,
		raw:      raw,
		message:  msg,
		settled:  make(chan struct{}),
	}
}

func (d *kafkaDelivery) Message() *Message {
	return d.message
}

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	defer d.settle()

	if _, err := d.consumer.CommitMessage(d.raw); err != nil {
		return fmt.Errorf("%w: commit offset: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

// Nack rewinds the partition to this message so the next read returns it again.
func (d *kafkaDelivery) Nack(ctx context.Context) error {
	defer d.settle()

	if err := d.consumer.Seek(d.raw.TopicPartition, int(kafkaPollTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("%w: seek back: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (d *kafkaDelivery) settle() {
	d.once.Do(func() {
		close(d.settled)
	})
}
