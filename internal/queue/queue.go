package queue

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
)

var (
	// ErrBrokerUnavailable wraps failures talking to the broker.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrClosed is returned by a broker after Close.
	ErrClosed = errors.New("broker closed")
)

const (
	HeaderMessageID       = "message-id"
	HeaderContentType     = "content-type"
	HeaderContentEncoding = "content-encoding"
)

// Message is the unit moved through the broker. Key selects the partition
// on brokers that have them, so messages sharing a key stay ordered.
type Message struct {
	ID      string
	Key     string
	Body    []byte
	Headers map[string]string
}

// NewMessage builds a JSON message with a fresh id.
func NewMessage(key string, body []byte) *Message {
	return &Message{
		ID:   uuid.NewString(),
		Key:  key,
		Body: body,
		Headers: map[string]string{
			HeaderContentType: "application/json",
		},
	}
}

// Header returns a header value or an empty string.
func (m *Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

// Delivery is a consumed message waiting to be settled. The broker keeps it
// until Ack; Nack hands it back for redelivery. Every delivery must be
// settled, also after the Consume ctx is done: the consumer holds its
// connection until then and reads nothing newer.
type Delivery interface {
	Message() *Message
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

type Publisher interface {
	// Publish stores msg on topic durably before returning.
	Publish(ctx context.Context, topic string, msg *Message) error
}

type Consumer interface {
	// Consume streams deliveries from the oldest unacknowledged message
	// until ctx is done, then closes the channel.
	Consume(ctx context.Context, topic string) (<-chan Delivery, error)
}

type Broker interface {
	Publisher
	Consumer
	io.Closer
}
