package queue

import (
	"context"
	"testing"

	"github.com/emrgen/newsimport/internal/compress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_EncodesAndDecodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewMemoryBroker()
	gateway := NewGateway(broker, compress.NewGZip(), ResilienceSettings{Attempts: 1})

	body := []byte(`{"url":"https://example.com/a","title":"Hola"}`)
	msg := NewMessage("https://example.com/a", body)
	require.NoError(t, gateway.Publish(ctx, "summary_item", msg))

	raw := broker.Published("summary_item")
	require.Len(t, raw, 1)
	assert.Equal(t, compress.NameGzip, raw[0].Header(HeaderContentEncoding))
	assert.NotEqual(t, body, raw[0].Body)
	assert.Equal(t, msg.ID, raw[0].ID)
	// the caller's message is not modified
	assert.Empty(t, msg.Header(HeaderContentEncoding))

	deliveries, err := gateway.Consume(ctx, "summary_item")
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, body, d.Message().Body)
	require.NoError(t, d.Ack(ctx))
	assert.Equal(t, 0, broker.Unacked("summary_item"))
}

func TestGateway_PassesThroughUnknownEncoding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewMemoryBroker()
	gateway := NewGateway(broker, compress.NewIdentity(), ResilienceSettings{Attempts: 1})

	msg := NewMessage("k", []byte("opaque"))
	msg.Headers[HeaderContentEncoding] = "zstd"
	require.NoError(t, broker.Publish(ctx, "item", msg))

	deliveries, err := gateway.Consume(ctx, "item")
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, []byte("opaque"), d.Message().Body)
}
