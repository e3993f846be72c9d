package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/emrgen/newsimport/internal/queue"
	"github.com/emrgen/newsimport/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "success", err: nil, want: Ack},
		{name: "malformed", err: fmt.Errorf("%w: no url", ErrMalformedMessage), want: Drop},
		{name: "unknown article", err: fmt.Errorf("%w: u9", ErrUnknownArticle), want: Drop},
		{name: "store down", err: fmt.Errorf("%w: connection refused", store.ErrRecordUnavailable), want: Retry},
		{name: "broker down", err: queue.ErrBrokerUnavailable, want: Retry},
		{name: "anything else", err: errors.New("boom"), want: Retry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

type flakyHandler struct {
	mu       sync.Mutex
	failures int
	bodies   []string
}

func (h *flakyHandler) Handle(ctx context.Context, body []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.bodies = append(h.bodies, string(body))
	if h.failures > 0 {
		h.failures--
		return fmt.Errorf("%w: connection reset", store.ErrRecordUnavailable)
	}
	return nil
}

func (h *flakyHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies)
}

func runLoop(t *testing.T, broker *queue.MemoryBroker, handler Handler) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(broker, "item", handler, nil)
	loop.SetBackoff(time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
	}()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop")
		}
	}
}

func TestLoop_RetriesTransientFailures(t *testing.T) {
	broker := queue.NewMemoryBroker()
	handler := &flakyHandler{failures: 2}
	require.NoError(t, broker.Publish(context.Background(), "item", queue.NewMessage("u", []byte(`{"url":"u"}`))))

	stop := runLoop(t, broker, handler)
	defer stop()

	assert.Eventually(t, func() bool {
		return broker.Unacked("item") == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, handler.calls())
}

func TestLoop_EndToEnd(t *testing.T) {
	f := newFixture(t)
	publish := func(body string) {
		require.NoError(t, f.broker.Publish(context.Background(), "item", queue.NewMessage("", []byte(body))))
	}

	publish(`{"url": "u1", "title": "Hola", "content": "Mundo", "source": "S", "date": "2024-03-01T10:00:00"}`)
	publish(`not json`)
	publish(`{"homepage": ["u1", "nope"], "source": "S"}`)
	publish(`{"homepage": ["u1"], "source": "S"}`)

	stop := runLoop(t, f.broker, f.ingestor)
	defer stop()

	assert.Eventually(t, func() bool {
		return f.broker.Unacked("item") == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, f.broker.Published("summary_item"), 1)
	assert.Len(t, f.broker.Published("deduplicator_item"), 1)
	assert.Len(t, f.broker.Published("answer_item"), 0)
}
