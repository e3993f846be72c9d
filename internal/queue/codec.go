package queue

import (
	"context"

	"github.com/emrgen/newsimport/internal/compress"
	"github.com/sirupsen/logrus"
)

var (
	_ Publisher = (*EncodingPublisher)(nil)
	_ Consumer  = (*DecodingConsumer)(nil)
)

// EncodingPublisher compresses message bodies and advertises the codec in
// the content-encoding header.
type EncodingPublisher struct {
	next  Publisher
	codec compress.Compress
}

func NewEncodingPublisher(next Publisher, codec compress.Compress) *EncodingPublisher {
	return &EncodingPublisher{next: next, codec: codec}
}

func (e *EncodingPublisher) Publish(ctx context.Context, topic string, msg *Message) error {
	name := compress.Name(e.codec)
	if name == compress.NameNone {
		return e.next.Publish(ctx, topic, msg)
	}

	body, err := e.codec.Encode(msg.Body)
	if err != nil {
		return err
	}

	encoded := &Message{
		ID:      msg.ID,
		Key:     msg.Key,
		Body:    body,
		Headers: make(map[string]string, len(msg.Headers)+1),
	}
	for k, v := range msg.Headers {
		encoded.Headers[k] = v
	}
	encoded.Headers[HeaderContentEncoding] = name

	return e.next.Publish(ctx, topic, encoded)
}

// DecodingConsumer undoes whatever content-encoding a producer applied.
// Bodies that fail to decode are passed through untouched and end up
// rejected as malformed by the handler.
type DecodingConsumer struct {
	next Consumer
}

func NewDecodingConsumer(next Consumer) *DecodingConsumer {
	return &DecodingConsumer{next: next}
}

func (d *DecodingConsumer) Consume(ctx context.Context, topic string) (<-chan Delivery, error) {
	in, err := d.next.Consume(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for delivery := range in {
			decoded := decode(delivery)
			select {
			case out <- decoded:
			case <-ctx.Done():
				// hand it back so the broker can redeliver it
				_ = delivery.Nack(context.Background())
				return
			}
		}
	}()

	return out, nil
}

func decode(delivery Delivery) Delivery {
	msg := delivery.Message()
	encoding := msg.Header(HeaderContentEncoding)
	if encoding == "" {
		return delivery
	}

	codec, err := compress.ByName(encoding)
	if err != nil {
		logrus.Warnf("message %s: %v", msg.ID, err)
		return delivery
	}

	body, err := codec.Decode(msg.Body)
	if err != nil {
		logrus.Warnf("message %s: decode %s body: %v", msg.ID, encoding, err)
		return delivery
	}

	plain := *msg
	plain.Body = body
	return &decodedDelivery{Delivery: delivery, message: &plain}
}

type decodedDelivery struct {
	Delivery
	message *Message
}

func (d *decodedDelivery) Message() *Message {
	return d.message
}
